/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package renderer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"k8s.io/klog/v2"

	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

const (
	// maxRestarts bounds recovery from broken pipes and unexpected exits
	// within a single render call.
	maxRestarts = 3

	readyTimeout = 10 * time.Second
)

// EnvMemoryLimit tells the worker binary the address-space cap to install.
const EnvMemoryLimit = "OSMO_RENDER_MEMORY_LIMIT"

// worker owns one long-lived child process. Workers are not safe for
// concurrent use; the pool hands each one to a single caller at a time.
type worker struct {
	binPath     string
	memoryLimit int64

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func newWorker(binPath string, memoryLimit int64) *worker {
	return &worker{binPath: binPath, memoryLimit: memoryLimit}
}

// start launches the child and waits for its ready line.
func (w *worker) start() error {
	cmd := exec.Command(w.binPath)
	cmd.Env = append(cmd.Environ(),
		fmt.Sprintf("%s=%s", EnvMemoryLimit, strconv.FormatInt(w.memoryLimit, 10)))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err = cmd.Start(); err != nil {
		return err
	}
	w.cmd = cmd
	w.stdin = stdin
	w.stdout = bufio.NewReader(stdout)

	ready := make(chan error, 1)
	go func() {
		line, err := w.stdout.ReadString('\n')
		if err != nil {
			ready <- err
			return
		}
		var resp struct {
			Ready bool `json:"ready"`
		}
		if err = json.Unmarshal([]byte(line), &resp); err != nil || !resp.Ready {
			ready <- fmt.Errorf("unexpected ready line %q", line)
			return
		}
		ready <- nil
	}()
	select {
	case err = <-ready:
		if err != nil {
			w.kill()
			return fmt.Errorf("render worker failed to become ready: %w", err)
		}
		return nil
	case <-time.After(readyTimeout):
		w.kill()
		return fmt.Errorf("render worker did not become ready within %v", readyTimeout)
	}
}

func (w *worker) kill() {
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
		_ = w.cmd.Wait()
	}
	w.cmd = nil
	w.stdin = nil
	w.stdout = nil
}

func (w *worker) alive() bool {
	return w.cmd != nil
}

// render sends one request and waits for the response under maxTime. On
// timeout the child is killed and restarted lazily by the next call.
func (w *worker) render(req *Request, maxTime time.Duration) (*Response, error) {
	if !w.alive() {
		if err := w.start(); err != nil {
			return nil, err
		}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err = w.stdin.Write(append(payload, '\n')); err != nil {
		w.kill()
		return nil, err
	}

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := w.stdout.ReadString('\n')
		if err != nil {
			done <- result{err: err}
			return
		}
		resp := &Response{}
		if err = json.Unmarshal([]byte(line), resp); err != nil {
			done <- result{err: err}
			return
		}
		done <- result{resp: resp}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			w.kill()
			return nil, r.err
		}
		return r.resp, nil
	case <-time.After(maxTime):
		w.kill()
		klog.Warningf("render worker exceeded max_time %v, killed", maxTime)
		return nil, commonerrors.NewRenderTimeout(
			fmt.Sprintf("template rendering exceeded the time limit of %v", maxTime))
	}
}

// renderWithRecovery retries transport failures up to maxRestarts with a
// fresh child; template errors, timeouts and memory errors are final.
func (w *worker) renderWithRecovery(req *Request, maxTime time.Duration, memoryLimit int64) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRestarts; attempt++ {
		resp, err := w.render(req, maxTime)
		if err != nil {
			if commonerrors.IsRenderTimeout(err) {
				return "", err
			}
			lastErr = err
			klog.Warningf("render worker transport failure (attempt %d/%d): %v",
				attempt+1, maxRestarts+1, err)
			continue
		}
		switch resp.ErrorKind {
		case ErrorNone:
			return resp.Rendered, nil
		case ErrorMemory:
			return "", commonerrors.NewRenderMemory(fmt.Sprintf(
				"template rendering exceeded the memory limit of %d bytes: %s",
				memoryLimit, resp.Error))
		default:
			return "", commonerrors.NewBadRequest(resp.Error)
		}
	}
	return "", commonerrors.NewInternalError(
		fmt.Sprintf("render worker kept failing after %d restarts: %v", maxRestarts, lastErr))
}
