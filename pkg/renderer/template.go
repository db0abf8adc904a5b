/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package renderer

import (
	"fmt"
	"strings"
	"text/template"
)

// templateFuncs are the only helpers exposed to templates. Nothing here
// hands back a reference to runtime internals.
var templateFuncs = template.FuncMap{
	"upper":   strings.ToUpper,
	"lower":   strings.ToLower,
	"trim":    strings.TrimSpace,
	"join":    strings.Join,
	"split":   strings.Split,
	"replace": strings.ReplaceAll,
	"printf":  fmt.Sprintf,
}

// cappedBuilder aborts rendering once the output exceeds the memory cap.
type cappedBuilder struct {
	builder strings.Builder
	limit   int64
}

type memoryLimitError struct{ limit int64 }

func (e *memoryLimitError) Error() string {
	return fmt.Sprintf("rendered output exceeds memory limit of %d bytes", e.limit)
}

func (b *cappedBuilder) Write(p []byte) (int, error) {
	if b.limit > 0 && int64(b.builder.Len())+int64(len(p)) > b.limit {
		return 0, &memoryLimitError{limit: b.limit}
	}
	return b.builder.Write(p)
}

// RenderTemplate executes the template with strict undefined-variable
// handling: referencing a variable absent from the map is an error, never an
// implicit empty string.
func RenderTemplate(templateText string, variables map[string]interface{}, memoryLimit int64) (string, ErrorKind, error) {
	tmpl, err := template.New("workflow").
		Option("missingkey=error").
		Funcs(templateFuncs).
		Parse(templateText)
	if err != nil {
		return "", ErrorTemplate, err
	}
	if variables == nil {
		variables = map[string]interface{}{}
	}
	out := &cappedBuilder{limit: memoryLimit}
	if err = tmpl.Execute(out, variables); err != nil {
		var memErr *memoryLimitError
		if ok := asMemoryError(err, &memErr); ok {
			return "", ErrorMemory, memErr
		}
		return "", ErrorTemplate, err
	}
	return out.builder.String(), ErrorNone, nil
}

// asMemoryError digs the cap violation out of template.ExecError wrapping.
func asMemoryError(err error, target **memoryLimitError) bool {
	for err != nil {
		if m, ok := err.(*memoryLimitError); ok {
			*target = m
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			// template.ExecError formats the cause into its message; match
			// on the sentinel text as a last resort.
			if strings.Contains(err.Error(), "exceeds memory limit") {
				*target = &memoryLimitError{}
				return true
			}
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
