package main

import (
	"errors"
	"os"

	"github.com/andrej220/provisioner/internal/persistence"
	"github.com/andrej220/provisioner/pkg/provision"
	"github.com/spf13/cobra"
)

var errNotSucceeded = errors.New("operation did not succeed")

func (a *app) writeResult(cmd *cobra.Command, v any) error {
	return persistence.WriteJSON(v, a.opts.out, cmd.OutOrStdout())
}

func newProvisionCmd(a *app) *cobra.Command {
	var req provision.Request
	cmd := &cobra.Command{
		Use:   "provision HOST",
		Short: "Create or update a login user and enable SSH password authentication",
		Long: `Create or update a login user and enable SSH password authentication.
The password is read from --password or $` + passwordEnv + `.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Host = args[0]
			if req.Password == "" {
				req.Password = os.Getenv(passwordEnv)
			}

			o, closeFn, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := o.Provision(cmd.Context(), req)
			if res != nil {
				if werr := a.writeResult(cmd, res); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
			if !res.Succeeded {
				return errNotSucceeded
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Username, "user", "u", "", "login user to create or update")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "password for the login user")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check HOST",
		Short: "Log in once with the bootstrap identity and run a read-only command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, closeFn, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := o.CheckConnection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.writeResult(cmd, res); err != nil {
				return err
			}
			if !res.Succeeded {
				return errNotSucceeded
			}
			return nil
		},
	}
}

func newLinkCmd(a *app) *cobra.Command {
	var req provision.LinkRequest
	cmd := &cobra.Command{
		Use:   "link HOST",
		Short: "Run a command in an interactive shell and print the first matching URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Host = args[0]

			o, closeFn, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := o.ExtractLink(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.writeResult(cmd, res)
		},
	}
	cmd.Flags().StringVar(&req.Command, "command", "", "command to run in the shell")
	cmd.Flags().StringVar(&req.PathKeyword, "path-keyword", "login", "path keyword the URL must contain")
	cmd.Flags().StringVar(&req.HostFragment, "host-fragment", "", "host fragment the URL must contain")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}
