// Package cli wires flags, configuration, the compute service and the
// dispatcher into the computectl root command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eniac111/computectl/internal/compute"
	"github.com/eniac111/computectl/internal/compute/gce"
	"github.com/eniac111/computectl/internal/config"
	"github.com/eniac111/computectl/internal/dispatch"
	"github.com/eniac111/computectl/internal/invocation"
	"github.com/eniac111/computectl/internal/ssh"
	"github.com/eniac111/computectl/internal/types"
)

const programName = "computectl"

// exitFunc allows tests to stub process exit behavior.
var exitFunc = os.Exit

// newComputeService connects to the provider. Tests replace it with a fake.
var newComputeService = func(ctx context.Context, cfg gce.Config) (compute.Service, error) {
	return gce.New(ctx, cfg)
}

// localLogin loads the SSH identity used on nodes.
var localLogin = ssh.LocalLogin

// Main runs computectl with the process arguments and exits.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

// Execute runs the root command with args and returns the exit code:
// 0 on success, 1 on a usage error, a help request or a failed action.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if args == nil {
		args = []string{}
	}
	cmd := NewRootCommand(stdout, stderr)
	cmd.SetArgs(args)

	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if errors.Is(err, invocation.ErrUsage) {
			fmt.Fprintf(stderr, "There was an error while parsing parameters: %v\n", err)
			printUsage(cmd, stderr)
		}
		return 1
	}
	if help, _ := cmd.Flags().GetBool("help"); help {
		return 1
	}
	return 0
}

// NewRootCommand builds the computectl command. Listings and script
// results go to stdout, logs and usage to stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           programName + " [options...] <action> [arguments...]",
		Short:         "Manage groups of Google Compute Engine instances",
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, stdout, stderr)
		},
	}
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	config.AddFlags(flags)
	flags.Bool("help", false, "Show help")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", invocation.ErrUsage, err)
	})
	cmd.SetHelpFunc(func(c *cobra.Command, _ []string) {
		printUsage(c, stderr)
	})
	cmd.SetUsageFunc(func(c *cobra.Command) error {
		printUsage(c, stderr)
		return nil
	})

	return cmd
}

func printUsage(cmd *cobra.Command, w io.Writer) {
	fmt.Fprintf(w, "Usage: %s\n\nOptions:\n%s", cmd.Use, cmd.Flags().FlagUsages())
	invocation.PrintExamples(w, programName)
}

func newLogger(w io.Writer, level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

func run(cmd *cobra.Command, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("%w: %v", invocation.ErrUsage, err)
	}
	inv, err := invocation.Parse(args)
	if err != nil {
		return err
	}

	logger := newLogger(stderr, cfg.LogLevel)

	credentials, err := cfg.ReadPrivateKey()
	if err != nil {
		logger.WithError(err).Errorf("Exception reading private key from %s", cfg.PKPath)
		return err
	}

	var login *types.LoginCredentials
	if inv.Action.NeedsLogin() {
		l, err := localLogin(cfg.SSHUser, cfg.SSHKey)
		if err != nil {
			logger.WithError(err).Error("There was an error while reading ssh key.")
			return err
		}
		login = &l
	}

	ctx := cmd.Context()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	logger.Infof(">> initializing Google Compute Engine for %s", cfg.Account)
	svc, err := newComputeService(ctx, gce.Config{
		Account:    cfg.Account,
		PrivateKey: credentials,
		Project:    cfg.Project,
		KnownHosts: cfg.KnownHosts,
		Log:        logger,
	})
	if err != nil {
		logger.WithError(err).Error("error")
		return err
	}

	d := &dispatch.Dispatcher{
		Compute:     svc,
		Login:       login,
		Log:         logger,
		Out:         stdout,
		Output:      cfg.Output,
		Zone:        cfg.Zone,
		Image:       cfg.Image,
		MachineType: cfg.MachineType,
		NodeTimeout: cfg.NodeTimeout,
	}
	return d.Run(ctx, inv)
}
