package sshsession

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ExecResult is produced once per exec or shell invocation and is not
// modified after the channel closes.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitStatus int    `json:"exit_status"`
	ExitSignal string `json:"exit_signal,omitempty"`
}

// Combined returns stdout followed by stderr.
func (r *ExecResult) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// LineSource is a channel that delivers stdout and stderr lines separately
// and signals completion through Done.
type LineSource interface {
	Stdout() <-chan string
	Stderr() <-chan string
	Done() <-chan struct{}
	Err() error
}

// StreamCapture accumulates stdout and stderr independently. The
// interleaving between the two streams is not kept.
type StreamCapture struct {
	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func NewStreamCapture() *StreamCapture {
	return &StreamCapture{}
}

type captureWriter struct {
	c   *StreamCapture
	buf *bytes.Buffer
}

func (w captureWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.buf.Write(p)
}

func (c *StreamCapture) Stdout() io.Writer { return captureWriter{c: c, buf: &c.stdout} }
func (c *StreamCapture) Stderr() io.Writer { return captureWriter{c: c, buf: &c.stderr} }

// Result freezes the captured streams into an ExecResult. waitErr is what the
// channel's Wait returned: nil, *ssh.ExitError, or a transport failure.
func (c *StreamCapture) Result(command string, waitErr error) (*ExecResult, error) {
	c.mu.Lock()
	res := &ExecResult{
		Stdout: c.stdout.String(),
		Stderr: c.stderr.String(),
	}
	c.mu.Unlock()

	if waitErr == nil {
		return res, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitStatus = exitErr.ExitStatus()
		res.ExitSignal = exitErr.Signal()
		return res, nil
	}
	// ExitMissingError and I/O failures land here
	return res, channelError(command, waitErr)
}

// Capture drains src until both streams close, then records the exit status.
// Blocks until the channel's close event or ctx is done.
func (c *StreamCapture) Capture(ctx context.Context, command string, src LineSource) (*ExecResult, error) {
	stdout, stderr := src.Stdout(), src.Stderr()
	for stdout != nil || stderr != nil {
		select {
		case <-ctx.Done():
			res, _ := c.Result(command, nil)
			return res, channelError(command, ctx.Err())
		case line, ok := <-stdout:
			if !ok {
				stdout = nil
				continue
			}
			io.WriteString(c.Stdout(), line+"\n")
		case line, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			io.WriteString(c.Stderr(), line+"\n")
		}
	}

	select {
	case <-ctx.Done():
		res, _ := c.Result(command, nil)
		return res, channelError(command, ctx.Err())
	case <-src.Done():
	}
	return c.Result(command, src.Err())
}
