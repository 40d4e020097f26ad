package provision

import (
	"context"
	"fmt"

	"github.com/andrej220/provisioner/internal/lg"
	"github.com/andrej220/provisioner/pkg/sshsession"
	"github.com/andrej220/provisioner/pkg/urlextract"
	"github.com/google/uuid"
)

// CheckCommand is read-only and exists on both Unix and Windows.
const CheckCommand = "whoami"

// CheckConnection makes a single attempt to log in and run CheckCommand.
// Failures are reported in the result.
func (o *Orchestrator) CheckConnection(ctx context.Context, host string) (*ConnectionCheckResult, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidRequest)
	}
	cred, err := o.credential(ctx, host)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With(lg.String("run_id", uuid.NewString()), lg.String("host", host))

	ctx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	sess, err := o.connector.Connect(ctx, cred)
	if err != nil {
		logger.Warn("connection check failed", lg.String("cause", causeOf(err)), lg.Err(err))
		return &ConnectionCheckResult{Output: err.Error()}, nil
	}
	defer sess.Close()

	res, err := sess.Exec(ctx, CheckCommand)
	if err != nil {
		logger.Warn("connection check failed", lg.String("cause", causeOf(err)), lg.Err(err))
		out := err.Error()
		if res != nil && res.Combined() != "" {
			out = res.Combined() + "\n" + out
		}
		return &ConnectionCheckResult{Output: out}, nil
	}
	ok := res.ExitStatus == 0
	logger.Info("connection checked", lg.Bool("succeeded", ok), lg.Int("exit_status", res.ExitStatus))
	return &ConnectionCheckResult{Succeeded: ok, Output: res.Combined()}, nil
}

// ExtractLink runs req.Command in an interactive shell, then "exit", captures
// everything the shell prints until it closes and returns the first URL
// matching the discriminators. A missing link is not an error.
func (o *Orchestrator) ExtractLink(ctx context.Context, req LinkRequest) (*LinkExtractionResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	cred, err := o.credential(ctx, req.Host)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With(lg.String("run_id", uuid.NewString()), lg.String("host", req.Host))

	ctx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	fail := func(stage string, err error, partial *sshsession.ExecResult) *LinkExtractionResult {
		logger.Warn("link extraction failed", lg.String("stage", stage), lg.String("cause", causeOf(err)), lg.Err(err))
		res := &LinkExtractionResult{Error: fmt.Sprintf("%s: %v", stage, err)}
		if partial != nil {
			res.RawOutput = partial.Combined()
			res.URL, res.Found = urlextract.Extract(res.RawOutput, req.PathKeyword, req.HostFragment)
		}
		return res
	}

	sess, err := o.connector.Connect(ctx, cred)
	if err != nil {
		return fail("connect", err, nil), nil
	}
	defer sess.Close()

	sh, err := sess.OpenShell(ctx)
	if err != nil {
		return fail("open shell", err, nil), nil
	}
	defer sh.Close()

	for _, line := range []string{req.Command, "exit"} {
		if err := sh.Send(line); err != nil {
			return fail("write", err, nil), nil
		}
	}

	out, err := sshsession.NewStreamCapture().Capture(ctx, req.Command, sh)
	if err != nil {
		return fail("capture", err, out), nil
	}

	res := &LinkExtractionResult{RawOutput: out.Combined()}
	res.URL, res.Found = urlextract.Extract(res.RawOutput, req.PathKeyword, req.HostFragment)
	logger.Info("link extraction finished", lg.Bool("found", res.Found))
	return res, nil
}
