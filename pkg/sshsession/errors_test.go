package sshsession

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Cause
	}{
		{"dns", &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "nope.invalid"}}, CauseDNSFailure},
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, CauseRefusedConnection},
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), CauseHandshakeTimeout},
		{"io timeout", &net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}, CauseHandshakeTimeout},
		{"other", errors.New("no route to host"), CauseUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyDialError(tt.err))
		})
	}
}

func TestClassifyHandshakeError(t *testing.T) {
	err := errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey], no supported methods remain")
	assert.Equal(t, CauseAuthRejected, classifyHandshakeError(err))
	assert.Equal(t, CauseUnreachable, classifyHandshakeError(errors.New("ssh: handshake failed: EOF")))
}

func TestConnectErrorUnwrapAndPermanent(t *testing.T) {
	inner := errors.New("boom")
	err := error(&ConnectError{Cause: CauseInvalidKey, Addr: "h:22", Err: inner})

	assert.ErrorIs(t, err, inner)
	var ce *ConnectError
	assert.ErrorAs(t, err, &ce)
	assert.True(t, ce.Permanent())
	assert.False(t, (&ConnectError{Cause: CauseRefusedConnection}).Permanent())
	assert.Contains(t, err.Error(), "invalid_key")
}

func TestCredential(t *testing.T) {
	cred := Credential{Host: "10.0.0.5", Username: "admin", PrivateKeyPEM: []byte("k")}
	assert.NoError(t, cred.Validate())
	assert.Equal(t, "10.0.0.5:22", cred.Addr())
	assert.Equal(t, "admin@10.0.0.5:22", cred.String())

	cred.Port = 2222
	assert.Equal(t, "10.0.0.5:2222", cred.Addr())

	assert.ErrorIs(t, Credential{Host: "h", Username: "u"}.Validate(), ErrInvalidCredential)
	assert.ErrorIs(t, Credential{Username: "u", PrivateKeyPEM: []byte("k")}.Validate(), ErrInvalidCredential)
}
