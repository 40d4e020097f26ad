package sshsession

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/andrej220/provisioner/internal/lg"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const DefaultHandshakeTimeout = 10 * time.Second

type DialerConfig struct {
	HandshakeTimeout time.Duration
	// KnownHostsPath enables host key verification. When empty, host keys are
	// accepted as-is: freshly created VMs have no recorded key yet.
	KnownHostsPath string
}

// Dialer establishes authenticated connections. It holds no per-connection
// state and is safe for concurrent use.
type Dialer struct {
	timeout         time.Duration
	hostKeyCallback ssh.HostKeyCallback
	logger          lg.Logger
}

func NewDialer(cfg DialerConfig, logger lg.Logger) (*Dialer, error) {
	if logger == nil {
		logger = lg.Discard
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	callback := ssh.InsecureIgnoreHostKey() //nolint:gosec
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHostsPath, err)
		}
		callback = cb
	}
	return &Dialer{timeout: timeout, hostKeyCallback: callback, logger: logger}, nil
}

// Connect dials cred.Addr() and authenticates with the private key. The
// handshake is bounded by the handshake timeout and by ctx, whichever is first.
func (d *Dialer) Connect(ctx context.Context, cred Credential) (*Connection, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	addr := cred.Addr()

	signer, err := ssh.ParsePrivateKey(cred.PrivateKeyPEM)
	if err != nil {
		return nil, &ConnectError{Cause: CauseInvalidKey, Addr: addr, Err: err}
	}

	config := &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: d.hostKeyCallback,
		Timeout:         d.timeout,
		BannerCallback:  func(message string) error { return nil }, // ignore banner
	}

	nd := net.Dialer{Timeout: d.timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Cause: classifyDialError(err), Addr: addr, Err: err}
	}

	deadline := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if !stop() {
		if err == nil {
			sshConn.Close()
		}
		return nil, &ConnectError{Cause: classifyDialError(ctx.Err()), Addr: addr, Err: ctx.Err()}
	}
	if err != nil {
		conn.Close()
		return nil, &ConnectError{Cause: classifyHandshakeError(err), Addr: addr, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	d.logger.Debug("ssh connection established", lg.String("addr", addr), lg.String("user", cred.Username))
	return newConnection(ssh.NewClient(sshConn, chans, reqs), addr, d.logger), nil
}

func breakerSettings(addr string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "ssh-channel " + addr,
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	}
}
