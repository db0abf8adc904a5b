/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

// render-worker is the isolated child process of the renderer pool. It
// installs an address-space cap where the OS supports one, answers
// newline-delimited JSON render requests on stdin, and trusts the parent to
// kill it on timeout.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/NVIDIA/OSMO-sub000/pkg/renderer"
)

func main() {
	memoryLimit, _ := strconv.ParseInt(os.Getenv(renderer.EnvMemoryLimit), 10, 64)
	if memoryLimit > 0 {
		if err := setMemoryLimit(memoryLimit); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set memory limit: %v\n", err)
		}
	}

	out := bufio.NewWriter(os.Stdout)
	fmt.Fprintln(out, renderer.ReadyLine)
	out.Flush()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		resp := handle(scanner.Bytes(), memoryLimit)
		payload, err := json.Marshal(resp)
		if err != nil {
			payload = []byte(`{"error_kind":"template","error":"failed to encode response"}`)
		}
		out.Write(payload)
		out.WriteByte('\n')
		out.Flush()
	}
}

func handle(line []byte, memoryLimit int64) (resp *renderer.Response) {
	resp = &renderer.Response{}
	defer func() {
		if r := recover(); r != nil {
			resp.ErrorKind = renderer.ErrorTemplate
			resp.Error = fmt.Sprintf("render panic: %v", r)
		}
	}()

	req := &renderer.Request{}
	if err := json.Unmarshal(line, req); err != nil {
		resp.ErrorKind = renderer.ErrorTemplate
		resp.Error = fmt.Sprintf("malformed request: %v", err)
		return resp
	}
	rendered, kind, err := renderer.RenderTemplate(req.Template, req.Variables, memoryLimit)
	if err != nil {
		resp.ErrorKind = kind
		resp.Error = err.Error()
		return resp
	}
	resp.Rendered = rendered
	return resp
}
