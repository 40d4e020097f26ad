package sshsession

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andrej220/provisioner/internal/lg"
	"github.com/melbahja/goph"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
)

// Connection owns one authenticated SSH transport. It is owned by the call
// that created it and must be closed on every exit path; Close is idempotent.
type Connection struct {
	client *goph.Client
	addr   string
	cb     *gobreaker.CircuitBreaker
	logger lg.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newConnection(client *ssh.Client, addr string, logger lg.Logger) *Connection {
	return &Connection{
		client: &goph.Client{Client: client},
		addr:   addr,
		cb:     gobreaker.NewCircuitBreaker(breakerSettings(addr)),
		logger: logger,
	}
}

func (c *Connection) RemoteAddr() string { return c.addr }

// Exec runs command in a fresh exec channel and waits for it to close. A
// nonzero exit status is reported in the result, not as an error; errors are
// *ExecError. Cancelling ctx force-closes the channel.
func (c *Connection) Exec(ctx context.Context, command string) (*ExecResult, error) {
	if c.closed.Load() {
		return nil, channelError(command, ErrClosed)
	}

	res, err := c.cb.Execute(func() (any, error) {
		return c.client.Command(command)
	})
	if err != nil {
		return nil, channelError(command, fmt.Errorf("open exec channel: %w", err))
	}
	cmd := res.(*goph.Cmd)
	defer cmd.Session.Close()

	capture := NewStreamCapture()
	cmd.Stdout = capture.Stdout()
	cmd.Stderr = capture.Stderr()

	done := make(chan error, 1)
	go func() { done <- cmd.Run() }()

	select {
	case <-ctx.Done():
		cmd.Session.Close()
		partial, _ := capture.Result(command, nil)
		return partial, channelError(command, ctx.Err())
	case err := <-done:
		return capture.Result(command, err)
	}
}

// OpenShell starts an interactive PTY-backed shell channel.
func (c *Connection) OpenShell(ctx context.Context) (*ShellChannel, error) {
	if c.closed.Load() {
		return nil, channelError("", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, channelError("", err)
	}

	res, err := c.cb.Execute(func() (any, error) {
		return c.client.NewSession()
	})
	if err != nil {
		return nil, channelError("", fmt.Errorf("open shell channel: %w", err))
	}
	sh, err := startShell(res.(*ssh.Session))
	if err != nil {
		return nil, channelError("", err)
	}
	return sh, nil
}

func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.client.Close()
		c.logger.Debug("ssh connection closed", lg.String("addr", c.addr))
	})
	return c.closeErr
}
