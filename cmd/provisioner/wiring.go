package main

import (
	"context"
	"fmt"

	"github.com/andrej220/provisioner/internal/lg"
	"github.com/andrej220/provisioner/pkg/config"
	"github.com/andrej220/provisioner/pkg/config/mongostore"
	"github.com/andrej220/provisioner/pkg/provision"
	"github.com/andrej220/provisioner/pkg/secrets"
	"github.com/andrej220/provisioner/pkg/sshsession"
)

// newResolver builds the configured secret backend. The returned close
// function is never nil.
func newResolver(ctx context.Context, s config.SecretsSettings) (secrets.Resolver, func(), error) {
	var (
		resolver secrets.Resolver
		closeFn  = func() {}
	)
	switch s.Backend {
	case "mongo":
		client, err := mongostore.Connect(ctx, s.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		resolver = secrets.NewMongoResolver(client.Database(s.MongoDB).Collection(s.MongoCollection))
		closeFn = func() { _ = client.Disconnect(context.Background()) }
	default:
		resolver = secrets.NewFileResolver(s.Path)
	}

	if s.AgeIdentityFile != "" {
		ids, err := secrets.LoadAgeIdentities(s.AgeIdentityFile)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		resolver = secrets.NewAgeResolver(resolver, ids...)
	}
	return resolver, closeFn, nil
}

func newDialer(s config.SSHSettings, logger lg.Logger) (*sshsession.Dialer, error) {
	d, err := sshsession.NewDialer(sshsession.DialerConfig{
		HandshakeTimeout: s.HandshakeTimeout,
		KnownHostsPath:   s.KnownHostsPath,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}
	return d, nil
}

func (a *app) orchestrator(ctx context.Context) (*provision.Orchestrator, func(), error) {
	return buildOrchestrator(ctx, a.settings, a.logger)
}

func buildOrchestrator(ctx context.Context, s config.Settings, logger lg.Logger) (*provision.Orchestrator, func(), error) {
	resolver, closeFn, err := newResolver(ctx, s.Secrets)
	if err != nil {
		return nil, nil, err
	}
	dialer, err := newDialer(s.SSH, logger)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	o := provision.New(
		provision.DialerConnector{Dialer: dialer},
		resolver,
		provision.ConfigFromSettings(s),
		provision.WithLogger(logger),
	)
	return o, closeFn, nil
}
