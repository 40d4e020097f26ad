// Package provision drives the connect, detect, render, exec and verify cycle
// against freshly created hosts, retrying the whole cycle while the host boots.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrej220/provisioner/internal/lg"
	"github.com/andrej220/provisioner/pkg/config"
	"github.com/andrej220/provisioner/pkg/secrets"
	"github.com/andrej220/provisioner/pkg/sshsession"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
)

var ErrInvalidRequest = errors.New("invalid request")

// Session is one authenticated connection owned by a single attempt.
type Session interface {
	Exec(ctx context.Context, command string) (*sshsession.ExecResult, error)
	OpenShell(ctx context.Context) (Shell, error)
	Close() error
}

// Shell is an interactive channel with separate stdout and stderr line streams.
type Shell interface {
	sshsession.LineSource
	Send(command string) error
	Close() error
}

// Connector opens a fresh Session. Every returned Session is closed by the
// caller before the next attempt starts.
type Connector interface {
	Connect(ctx context.Context, cred sshsession.Credential) (Session, error)
}

// Config is the provisioning policy. Zero values take the defaults from
// package config; there is no way to retry without a delay.
type Config struct {
	IdentityKey    string
	Port           int
	MaxAttempts    int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
	// ExitCodeOnly disables the stderr "error"/"failed" substring check.
	ExitCodeOnly bool
}

func DefaultConfig() Config {
	return ConfigFromSettings(config.Default())
}

func ConfigFromSettings(s config.Settings) Config {
	return Config{
		IdentityKey:    s.Provisioning.IdentityKey,
		Port:           s.SSH.Port,
		MaxAttempts:    s.Provisioning.MaxAttempts,
		RetryDelay:     s.Provisioning.RetryDelay,
		AttemptTimeout: s.Provisioning.AttemptTimeout,
		ExitCodeOnly:   s.Provisioning.ExitCodeOnly,
	}
}

func (c Config) withDefaults() Config {
	if c.IdentityKey == "" {
		c.IdentityKey = config.DefaultIdentityKey
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = config.DefaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = config.DefaultRetryDelay
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = config.DefaultAttemptTimeout
	}
	return c
}

type Request struct {
	Host     string `json:"host" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"-" validate:"required"`
}

// Result is what a caller observes after the retry loop concludes.
type Result struct {
	Succeeded      bool   `json:"succeeded"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	ConnectionHint string `json:"connection_hint,omitempty"`
	OS             string `json:"os,omitempty"`
	RawOutput      string `json:"raw_output,omitempty"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"last_error,omitempty"`
}

type ConnectionCheckResult struct {
	Succeeded bool   `json:"succeeded"`
	Output    string `json:"output"`
}

type LinkRequest struct {
	Host         string `json:"host" validate:"required"`
	Command      string `json:"command" validate:"required"`
	PathKeyword  string `json:"path_keyword"`
	HostFragment string `json:"host_fragment"`
}

type LinkExtractionResult struct {
	Found     bool   `json:"found"`
	URL       string `json:"url,omitempty"`
	RawOutput string `json:"raw_output"`
	Error     string `json:"error,omitempty"`
}

// CommandError is a remote command that ran but reported failure.
type CommandError struct {
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("command failed with exit status %d", e.ExitStatus)
	}
	return fmt.Sprintf("command failed with exit status %d: %s", e.ExitStatus, stderr)
}

// commandFailed reports a nonzero exit, or failure markers on stderr unless
// exitCodeOnly is set.
func commandFailed(res *sshsession.ExecResult, exitCodeOnly bool) bool {
	if res.ExitStatus != 0 {
		return true
	}
	if exitCodeOnly {
		return false
	}
	stderr := strings.ToLower(res.Stderr)
	return strings.Contains(stderr, "error") || strings.Contains(stderr, "failed")
}

type Option func(*Orchestrator)

func WithLogger(l lg.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTimer replaces the timer used for inter-attempt waits.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(o *Orchestrator) { o.newTimer = newTimer }
}

// Orchestrator holds no per-request state; concurrent calls are independent.
type Orchestrator struct {
	connector Connector
	resolver  secrets.Resolver
	cfg       Config
	logger    lg.Logger
	newTimer  func() backoff.Timer
}

var validate = validator.New()

func New(connector Connector, resolver secrets.Resolver, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		connector: connector,
		resolver:  resolver,
		cfg:       cfg.withDefaults(),
		logger:    lg.Discard,
		newTimer:  func() backoff.Timer { return nil },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Config() Config { return o.cfg }

func (o *Orchestrator) credential(ctx context.Context, host string) (sshsession.Credential, error) {
	id, err := o.resolver.Resolve(ctx, o.cfg.IdentityKey)
	if err != nil {
		return sshsession.Credential{}, fmt.Errorf("resolve identity %q: %w", o.cfg.IdentityKey, err)
	}
	return sshsession.Credential{
		Host:          host,
		Port:          o.cfg.Port,
		Username:      id.Username,
		PrivateKeyPEM: id.PrivateKeyPEM,
	}, nil
}

func validateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// WithConfig returns a copy of o using cfg; connector, resolver and options
// are shared.
func (o *Orchestrator) WithConfig(cfg Config) *Orchestrator {
	c := *o
	c.cfg = cfg.withDefaults()
	return &c
}
