package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/andrej220/provisioner/internal/lg"
	"github.com/andrej220/provisioner/pkg/config"
	"github.com/andrej220/provisioner/pkg/config/configstore"
	"github.com/andrej220/provisioner/pkg/consumer"
	"github.com/andrej220/provisioner/pkg/producer"
	"github.com/andrej220/provisioner/pkg/provision"
	dm "github.com/andrej220/provisioner/pkg/shared-models"
	"github.com/andrej220/provisioner/pkg/workerpool"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const publishTimeout = 30 * time.Second

type runner interface {
	Provision(ctx context.Context, req provision.Request) (*provision.Result, error)
	CheckConnection(ctx context.Context, host string) (*provision.ConnectionCheckResult, error)
	ExtractLink(ctx context.Context, req provision.LinkRequest) (*provision.LinkExtractionResult, error)
}

type delivery = consumer.Delivery[dm.ProvisionJob]

// jobSource hands out jobs whose offsets stay uncommitted until Commit.
type jobSource interface {
	Fetch(ctx context.Context) (delivery, error)
	Commit(ctx context.Context, d delivery) error
	Close() error
}

type resultSink interface {
	Publish(ctx context.Context, key string, v dm.JobResult) error
	Close() error
}

// server feeds jobs from the request topic through the worker pool and
// publishes one result per job. A job's offset is committed only after its
// result is published, so jobs interrupted by a crash are redelivered.
type server struct {
	source   jobSource
	sink     resultSink
	pool     *workerpool.Pool[delivery]
	runner   atomic.Pointer[runner]
	validate *validator.Validate
	logger   lg.Logger
}

func newServer(source jobSource, sink resultSink, r runner, poolSize int, logger lg.Logger) *server {
	s := &server{
		source:   source,
		sink:     sink,
		pool:     workerpool.NewPool[delivery](poolSize),
		validate: validator.New(),
		logger:   logger,
	}
	s.setRunner(r)
	return s
}

// setRunner applies to jobs started afterwards; running jobs keep theirs.
func (s *server) setRunner(r runner) { s.runner.Store(&r) }

func (s *server) run(ctx context.Context) error {
	defer s.pool.Stop()
	for {
		d, err := s.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, consumer.ErrMalformedMessage) {
				s.logger.Warn("skipping malformed job", lg.Err(err))
				continue
			}
			return err
		}
		job := &d.Payload
		if job.JobID == uuid.Nil {
			job.JobID = uuid.New()
		}

		jobCtx := lg.Attach(ctx, s.logger.With(
			lg.String("job_id", job.JobID.String()),
			lg.String("kind", string(job.Kind)),
			lg.String("host", job.Host),
		))
		if err := s.pool.Submit(workerpool.Job[delivery]{Payload: d, Fn: s.handle, Ctx: jobCtx}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *server) handle(ctx context.Context, d delivery) error {
	job := d.Payload
	res := s.execute(ctx, job)
	res.FinishedAt = time.Now().UTC()

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.sink.Publish(pubCtx, job.JobID.String(), res); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	if err := s.source.Commit(pubCtx, d); err != nil {
		return fmt.Errorf("commit job offset: %w", err)
	}
	return nil
}

func (s *server) execute(ctx context.Context, job dm.ProvisionJob) dm.JobResult {
	res := dm.JobResult{JobID: job.JobID, Kind: job.Kind, Host: job.Host}
	if err := s.validate.Struct(job); err != nil {
		res.Error = err.Error()
		return res
	}
	r := *s.runner.Load()

	switch job.Kind {
	case dm.KindProvision:
		out, err := r.Provision(ctx, provision.Request{Host: job.Host, Username: job.Username, Password: job.Password})
		if out != nil {
			res.Succeeded = out.Succeeded
			res.ConnectionHint = out.ConnectionHint
			res.OS = out.OS
			res.Output = out.RawOutput
			res.Attempts = out.Attempts
			res.Error = out.LastError
		}
		if err != nil {
			res.Error = err.Error()
		}
	case dm.KindCheck:
		out, err := r.CheckConnection(ctx, job.Host)
		if err != nil {
			res.Error = err.Error()
			break
		}
		res.Succeeded = out.Succeeded
		res.Output = out.Output
		res.Attempts = 1
	case dm.KindLink:
		out, err := r.ExtractLink(ctx, provision.LinkRequest{
			Host:         job.Host,
			Command:      job.Command,
			PathKeyword:  job.PathKeyword,
			HostFragment: job.HostFragment,
		})
		if err != nil {
			res.Error = err.Error()
			break
		}
		res.Succeeded = out.Found
		res.URL = out.URL
		res.Output = out.RawOutput
		res.Error = out.Error
		res.Attempts = 1
	}
	return res
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume provisioning jobs from Kafka and publish results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			o, closeFn, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			kafka := a.settings.Kafka
			source := consumer.NewConsumer[dm.ProvisionJob](consumer.Config{
				Brokers: kafka.Brokers,
				GroupID: kafka.GroupID,
				Topic:   kafka.RequestTopic,
			})
			defer source.Close()
			sink := producer.NewProducer[dm.JobResult](producer.Config{Brokers: kafka.Brokers, Topic: kafka.ResultTopic})
			defer sink.Close()

			srv := newServer(source, sink, o, a.settings.Workers.PoolSize, a.logger)
			a.logger.Info("serving",
				lg.Any("brokers", kafka.Brokers),
				lg.String("request_topic", kafka.RequestTopic),
				lg.Int("workers", a.settings.Workers.PoolSize))

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.run(ctx) })
			g.Go(func() error { return a.watchSettings(ctx, srv, o) })
			return g.Wait()
		},
	}
}

// watchSettings swaps in the new provisioning policy when the config file
// changes. Secret backend and SSH settings need a restart.
func (a *app) watchSettings(ctx context.Context, srv *server, base *provision.Orchestrator) error {
	err := a.store.Watch(ctx, func() {
		s, err := config.LoadSettings(a.store)
		if err != nil {
			a.logger.Warn("ignoring invalid configuration change", lg.Err(err))
			return
		}
		srv.setRunner(base.WithConfig(provision.ConfigFromSettings(s)))
		a.logger.Info("provisioning policy reloaded",
			lg.Int("max_attempts", s.Provisioning.MaxAttempts),
			lg.Duration("retry_delay", s.Provisioning.RetryDelay),
			lg.Bool("exit_code_only", s.Provisioning.ExitCodeOnly))
	})
	if err != nil {
		if errors.Is(err, configstore.ErrWatchUnsupported) {
			return nil
		}
		a.logger.Warn("config watch disabled", lg.Err(err))
		return nil
	}
	<-ctx.Done()
	return nil
}
