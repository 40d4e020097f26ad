package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/andrej220/provisioner/internal/lg"
	"github.com/andrej220/provisioner/pkg/consumer"
	"github.com/andrej220/provisioner/pkg/provision"
	dm "github.com/andrej220/provisioner/pkg/shared-models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	name string
}

func (f fakeRunner) Provision(_ context.Context, req provision.Request) (*provision.Result, error) {
	if req.Host == "down" {
		return &provision.Result{Attempts: 10, LastError: "connect: refused_connection"}, nil
	}
	return &provision.Result{
		Succeeded:      true,
		ConnectionHint: req.Username + "@" + req.Host,
		OS:             "ubuntu_debian",
		Attempts:       1,
		RawOutput:      f.name,
	}, nil
}

func (f fakeRunner) CheckConnection(context.Context, string) (*provision.ConnectionCheckResult, error) {
	return &provision.ConnectionCheckResult{Succeeded: true, Output: "admin\n"}, nil
}

func (f fakeRunner) ExtractLink(_ context.Context, req provision.LinkRequest) (*provision.LinkExtractionResult, error) {
	return &provision.LinkExtractionResult{Found: true, URL: "https://" + req.HostFragment + "/login"}, nil
}

type fakeSink struct {
	mu       sync.Mutex
	results  []dm.JobResult
	failHost string
	attempts int
}

func (s *fakeSink) Publish(_ context.Context, key string, v dm.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if v.Host == s.failHost {
		return errors.New("result topic unavailable")
	}
	if key != v.JobID.String() {
		return fmt.Errorf("key %s does not match job %s", key, v.JobID)
	}
	s.results = append(s.results, v)
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) publishAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *fakeSink) byHost() map[string]dm.JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]dm.JobResult)
	for _, r := range s.results {
		out[r.Host] = r
	}
	return out
}

type fakeSource struct {
	items     []any
	offset    int64
	mu        sync.Mutex
	committed map[string]int64
}

func (f *fakeSource) Fetch(ctx context.Context) (delivery, error) {
	if len(f.items) == 0 {
		<-ctx.Done()
		return delivery{}, ctx.Err()
	}
	item := f.items[0]
	f.items = f.items[1:]
	f.offset++
	if err, ok := item.(error); ok {
		return delivery{}, err
	}
	return delivery{Payload: item.(dm.ProvisionJob), Message: kafka.Message{Offset: f.offset}}, nil
}

func (f *fakeSource) Commit(_ context.Context, d delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.committed == nil {
		f.committed = make(map[string]int64)
	}
	f.committed[d.Payload.Host] = d.Message.Offset
	return nil
}

func (f *fakeSource) commits() map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.committed))
	for k, v := range f.committed {
		out[k] = v
	}
	return out
}

func (f *fakeSource) Close() error { return nil }

func TestServerExecute(t *testing.T) {
	srv := newServer(&fakeSource{}, &fakeSink{}, fakeRunner{}, 2, lg.Discard)
	defer srv.pool.Stop()
	ctx := context.Background()

	res := srv.execute(ctx, dm.ProvisionJob{Kind: dm.KindProvision, Host: "10.0.0.5", Username: "svcuser", Password: "Str0ng!Pass"})
	assert.True(t, res.Succeeded)
	assert.Equal(t, "svcuser@10.0.0.5", res.ConnectionHint)

	res = srv.execute(ctx, dm.ProvisionJob{Kind: dm.KindProvision, Host: "down", Username: "svcuser", Password: "x"})
	assert.False(t, res.Succeeded)
	assert.Equal(t, 10, res.Attempts)
	assert.Contains(t, res.Error, "refused_connection")

	res = srv.execute(ctx, dm.ProvisionJob{Kind: dm.KindLink, Host: "h", Command: "app", HostFragment: "myhost"})
	assert.True(t, res.Succeeded)
	assert.Equal(t, "https://myhost/login", res.URL)

	res = srv.execute(ctx, dm.ProvisionJob{Kind: dm.KindCheck, Host: "h"})
	assert.True(t, res.Succeeded)

	res = srv.execute(ctx, dm.ProvisionJob{Kind: dm.KindProvision, Host: "h"})
	assert.False(t, res.Succeeded)
	assert.NotEmpty(t, res.Error)

	res = srv.execute(ctx, dm.ProvisionJob{Kind: "reboot", Host: "h"})
	assert.False(t, res.Succeeded)
	assert.NotEmpty(t, res.Error)
}

func TestServerRun(t *testing.T) {
	id := uuid.New()
	source := &fakeSource{items: []any{
		dm.ProvisionJob{JobID: id, Kind: dm.KindProvision, Host: "a", Username: "svcuser", Password: "pw"},
		fmt.Errorf("%w: offset 7", consumer.ErrMalformedMessage),
		dm.ProvisionJob{Kind: dm.KindCheck, Host: "b"},
	}}
	sink := &fakeSink{}
	srv := newServer(source, sink, fakeRunner{}, 2, lg.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.run(ctx) }()

	assert.Eventually(t, func() bool { return len(sink.byHost()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	got := sink.byHost()
	assert.Equal(t, id, got["a"].JobID)
	assert.NotEqual(t, uuid.Nil, got["b"].JobID)
	assert.False(t, got["a"].FinishedAt.IsZero())
	assert.Equal(t, map[string]int64{"a": 1, "b": 3}, source.commits())
}

func TestServerCommitsOnlyPublishedJobs(t *testing.T) {
	source := &fakeSource{items: []any{
		dm.ProvisionJob{Kind: dm.KindCheck, Host: "lost"},
		dm.ProvisionJob{Kind: dm.KindCheck, Host: "ok"},
	}}
	sink := &fakeSink{failHost: "lost"}
	srv := newServer(source, sink, fakeRunner{}, 1, lg.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.run(ctx) }()

	assert.Eventually(t, func() bool { return sink.publishAttempts() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	commits := source.commits()
	assert.Contains(t, commits, "ok")
	assert.NotContains(t, commits, "lost", "a job whose result was not published must be redelivered")
}

func TestServerRunStopsOnSourceError(t *testing.T) {
	boom := errors.New("broker down")
	srv := newServer(&fakeSource{items: []any{boom}}, &fakeSink{}, fakeRunner{}, 1, lg.Discard)
	assert.ErrorIs(t, srv.run(context.Background()), boom)
}

func TestSetRunnerAppliesToNewJobs(t *testing.T) {
	srv := newServer(&fakeSource{}, &fakeSink{}, fakeRunner{name: "old"}, 1, lg.Discard)
	defer srv.pool.Stop()
	job := dm.ProvisionJob{Kind: dm.KindProvision, Host: "h", Username: "svcuser", Password: "pw"}

	assert.Equal(t, "old", srv.execute(context.Background(), job).Output)
	srv.setRunner(fakeRunner{name: "new"})
	assert.Equal(t, "new", srv.execute(context.Background(), job).Output)
}
