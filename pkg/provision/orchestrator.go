package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/provisioner/internal/lg"
	"github.com/andrej220/provisioner/pkg/cmdbuilder"
	"github.com/andrej220/provisioner/pkg/osprobe"
	"github.com/andrej220/provisioner/pkg/sshsession"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

type outcome struct {
	number    int
	succeeded bool
	os        osprobe.Category
	output    *sshsession.ExecResult
	err       error
}

// Provision creates or updates the login on req.Host and enables password
// authentication. Invalid input and identity resolution fail fast with an
// error. Stage failures are retried and end up in Result.LastError. If ctx is
// done the partial result is returned together with ctx.Err().
func (o *Orchestrator) Provision(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := cmdbuilder.ValidateTarget(req.Username, req.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	cred, err := o.credential(ctx, req.Host)
	if err != nil {
		return nil, err
	}

	logger := o.logger.With(
		lg.String("run_id", uuid.NewString()),
		lg.String("host", req.Host),
		lg.Int("max_attempts", o.cfg.MaxAttempts),
	)
	logger.Info("provisioning started", lg.String("username", req.Username))

	var last outcome
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		last = o.attempt(ctx, logger, cred, req, last.number+1)
		if last.err == nil {
			return nil
		}
		var ce *sshsession.ConnectError
		if errors.As(last.err, &ce) && ce.Permanent() {
			return backoff.Permanent(last.err)
		}
		return last.err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.cfg.RetryDelay), uint64(o.cfg.MaxAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		logger.Info("waiting before next attempt", lg.Int("attempt", last.number), lg.Duration("wait", wait))
	}
	err = backoff.RetryNotifyWithTimer(operation, b, notify, o.newTimer())

	res := &Result{Attempts: last.number}
	if last.output != nil {
		res.RawOutput = last.output.Combined()
	}
	if err == nil {
		res.Succeeded = true
		res.Username = req.Username
		res.Password = req.Password
		res.ConnectionHint = req.Username + "@" + req.Host
		res.OS = last.os.String()
		logger.Info("provisioning succeeded", lg.Int("attempts", res.Attempts), lg.String("os", res.OS))
		return res, nil
	}

	res.LastError = err.Error()
	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Warn("provisioning cancelled", lg.Int("attempts", res.Attempts), lg.Err(ctxErr))
		return res, ctxErr
	}
	logger.Error("provisioning failed", lg.Int("attempts", res.Attempts), lg.String("last_error", res.LastError))
	return res, nil
}

// attempt runs one full cycle on a fresh session bounded by AttemptTimeout.
// The session is closed before attempt returns.
func (o *Orchestrator) attempt(ctx context.Context, logger lg.Logger, cred sshsession.Credential, req Request, n int) (out outcome) {
	out.number = n
	logger = logger.With(lg.Int("attempt", n))
	start := time.Now()
	defer func() {
		if out.err != nil {
			logger.Warn("attempt failed", lg.Duration("elapsed", time.Since(start)), lg.String("cause", causeOf(out.err)), lg.Err(out.err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	sess, err := o.connector.Connect(ctx, cred)
	if err != nil {
		out.err = fmt.Errorf("connect: %w", err)
		return out
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Debug("close session", lg.Err(err))
		}
	}()

	out.os, err = osprobe.Detect(ctx, sess)
	if err != nil {
		out.err = err
		return out
	}
	logger.Debug("os detected", lg.String("os", out.os.String()))

	cmd, err := cmdbuilder.Render(out.os, req.Username, req.Password)
	if err != nil {
		out.err = backoff.Permanent(err)
		return out
	}

	out.output, err = sess.Exec(ctx, cmd)
	if err != nil {
		out.err = fmt.Errorf("exec: %w", err)
		return out
	}
	if commandFailed(out.output, o.cfg.ExitCodeOnly) {
		out.err = &CommandError{ExitStatus: out.output.ExitStatus, Stderr: out.output.Stderr}
		return out
	}
	out.succeeded = true
	return out
}

func causeOf(err error) string {
	var (
		ce  *sshsession.ConnectError
		ee  *sshsession.ExecError
		de  *osprobe.DetectError
		cmd *CommandError
	)
	switch {
	case errors.As(err, &ce):
		return string(ce.Cause)
	case errors.As(err, &de):
		return "detect"
	case errors.As(err, &ee):
		return string(ee.Cause)
	case errors.As(err, &cmd):
		return "command_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "attempt_timeout"
	}
	return "unknown"
}
