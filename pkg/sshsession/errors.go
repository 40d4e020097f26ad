package sshsession

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

var (
	ErrClosed            = errors.New("ssh connection closed")
	ErrInvalidCredential = errors.New("invalid ssh credential")
)

// Cause classifies why a connect or exec failed.
type Cause string

const (
	CauseDNSFailure        Cause = "dns_failure"
	CauseRefusedConnection Cause = "refused_connection"
	CauseAuthRejected      Cause = "auth_rejected"
	CauseHandshakeTimeout  Cause = "handshake_timeout"
	CauseInvalidKey        Cause = "invalid_key"
	CauseUnreachable       Cause = "unreachable"
	CauseChannelError      Cause = "channel_error"
)

// ConnectError is returned by Dialer.Connect.
type ConnectError struct {
	Cause Cause
	Addr  string
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("ssh connect %s: %s: %v", e.Addr, e.Cause, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Permanent reports whether retrying the same credential can possibly succeed.
func (e *ConnectError) Permanent() bool {
	return e.Cause == CauseInvalidKey
}

// ExecError is returned when a channel fails after a successful handshake.
type ExecError struct {
	Cause Cause
	// Command may embed credentials and is kept out of Error().
	Command string
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("ssh exec: %s: %v", e.Cause, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

func channelError(command string, err error) *ExecError {
	return &ExecError{Cause: CauseChannelError, Command: command, Err: err}
}

func classifyDialError(err error) Cause {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return CauseDNSFailure
	case errors.Is(err, syscall.ECONNREFUSED):
		return CauseRefusedConnection
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return CauseHandshakeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CauseHandshakeTimeout
	}
	return CauseUnreachable
}

func classifyHandshakeError(err error) Cause {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return CauseAuthRejected
	}
	return classifyDialError(err)
}
