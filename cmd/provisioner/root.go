package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/andrej220/provisioner/internal/lg"
	"github.com/andrej220/provisioner/pkg/config"
	"github.com/andrej220/provisioner/pkg/config/filestore"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	serviceName       = "provisioner"
	defaultConfigPath = "provisioner.yaml"
	configEnv         = "PROVISIONER_CONFIG"
	passwordEnv       = "PROVISIONER_PASSWORD"
)

type rootOptions struct {
	configPath string
	envFile    string
	debug      bool
	logFormat  string
	out        string
}

// app is what every subcommand gets after PersistentPreRunE.
type app struct {
	opts     *rootOptions
	store    *filestore.FileStore
	settings config.Settings
	logger   lg.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:   serviceName,
		Short: "Prepare freshly created hosts for password login over SSH",
		Long: `provisioner connects to a freshly created host with the bootstrap identity,
detects the guest OS, creates or updates a login user, enables password
authentication in sshd and restarts it. The whole cycle is retried while the
host is still booting.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default $"+configEnv+" or "+defaultConfigPath+")")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.StringVar(&opts.logFormat, "log-format", "json", "log format: json or console")
	flags.StringVarP(&opts.out, "out", "o", "-", "write the JSON result to this file")

	root.AddCommand(
		newProvisionCmd(a),
		newCheckCmd(a),
		newLinkCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := godotenv.Load(a.opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", a.opts.envFile, err)
	}

	path := a.opts.configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		path = defaultConfigPath
	}

	a.logger = lg.New(&lg.Config{ServiceName: serviceName, Debug: a.opts.debug, Format: a.opts.logFormat})
	a.store = filestore.New(path)
	a.store.Logger = a.logger

	settings, err := config.LoadSettings(a.store)
	if err != nil {
		return err
	}
	a.settings = settings
	a.logger.Debug("configuration loaded", lg.String("path", path), lg.String("secrets_backend", settings.Secrets.Backend))

	cmd.SetContext(lg.Attach(cmd.Context(), a.logger))
	return nil
}
