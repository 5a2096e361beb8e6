package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ec2launch/internal/catalog"
	"ec2launch/internal/config"
	"ec2launch/internal/control"
	"ec2launch/internal/launcher"
	"ec2launch/internal/logging"
	"ec2launch/internal/prompt"
	"ec2launch/internal/provisioning"
	"ec2launch/internal/state"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath   string
	interactive  bool
	zone         string
	keyName      string
	group        string
	instanceType string
	arch         string
	store        string
	pollInterval time.Duration
	maxPolls     int
	timeout      time.Duration
	plain        bool
	setup        bool
)

// rootCmd launches a single EC2 instance
var rootCmd = &cobra.Command{
	Use:   "ec2launch",
	Short: "Launch an EC2 instance and print its endpoint",
	Long: `Launch one Ubuntu instance on EC2 and wait until it is running.

The image is picked from a built-in catalog by region, architecture and
storage type. With --interactive every parameter is chosen from menus built
from what the account actually offers.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defaults, err := launchDefaults(cmd, cfg)
		if err != nil {
			return err
		}
		applyPollFlags(cmd, cfg)
		return launch(cmd.Context(), cfg, defaults)
	},
}

// shutdownSignals cancel the launch so polling stops and the ledger is updated.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		_ = logging.Sync()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default $EC2LAUNCH_CONFIG or ec2launch.yaml)")
	registerLaunchFlags(rootCmd)
}

// registerLaunchFlags binds the launch flags of cmd to the package variables.
func registerLaunchFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Choose every parameter from menus")
	cmd.Flags().StringVarP(&zone, "zone", "z", "us-east-1a", "Availability zone")
	cmd.Flags().StringVarP(&keyName, "key", "k", "", "Key pair name")
	cmd.Flags().StringVarP(&group, "group", "g", "default", "Security group name")
	cmd.Flags().StringVarP(&instanceType, "type", "t", catalog.DefaultInstanceType, "Instance type")
	cmd.Flags().StringVarP(&arch, "arch", "a", "64", "Architecture (64|32)")
	cmd.Flags().StringVarP(&store, "store", "s", "ebs", "Root device storage (ebs|instance)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "Delay between status checks")
	cmd.Flags().IntVar(&maxPolls, "max-polls", 600, "Maximum status checks, 0 for unbounded")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "Launch timeout, counted once parameters are chosen, 0 for none")
	cmd.Flags().BoolVar(&plain, "plain", false, "Use line prompts even on a terminal")
	cmd.Flags().BoolVar(&setup, "setup", false, "Run configured setup commands over SSH once running")
}

func loadConfig() (*config.Config, error) {
	path := config.ResolvePath(configPath)
	explicit := configPath != "" || os.Getenv("EC2LAUNCH_CONFIG") != ""
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// launchDefaults merges config defaults with flags the user set explicitly.
func launchDefaults(cmd *cobra.Command, cfg *config.Config) (launcher.Configuration, error) {
	d := cfg.Defaults
	flags := cmd.Flags()
	if flags.Changed("zone") {
		d.Zone = zone
	}
	if flags.Changed("key") {
		d.KeyName = keyName
	}
	if flags.Changed("group") {
		d.SecurityGroup = group
	}
	if flags.Changed("type") {
		d.InstanceType = instanceType
	}
	if flags.Changed("arch") {
		d.Architecture = arch
	}
	if flags.Changed("store") {
		d.StorageType = store
	}

	a, err := catalog.ParseArchitecture(d.Architecture)
	if err != nil {
		return launcher.Configuration{}, err
	}
	s, err := catalog.ParseStorageType(d.StorageType)
	if err != nil {
		return launcher.Configuration{}, err
	}
	return launcher.Configuration{
		Zone:          d.Zone,
		SecurityGroup: d.SecurityGroup,
		InstanceType:  d.InstanceType,
		Architecture:  a,
		StorageType:   s,
		KeyName:       d.KeyName,
	}, nil
}

func applyPollFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("poll-interval") {
		cfg.Poll.Interval = pollInterval
	}
	if flags.Changed("max-polls") {
		cfg.Poll.MaxAttempts = maxPolls
	}
	if flags.Changed("timeout") {
		cfg.Poll.Timeout = timeout
	}
}

// buildCatalog returns the built-in catalog with config overrides applied.
func buildCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if len(cfg.Images) == 0 {
		return catalog.Default(), nil
	}
	overrides := make(map[string]catalog.Entry, len(cfg.Images))
	for region, images := range cfg.Images {
		var entry catalog.Entry
		copy(entry[:], images)
		overrides[region] = entry
	}
	return catalog.Default().WithOverrides(overrides)
}

func launch(ctx context.Context, cfg *config.Config, defaults launcher.Configuration) error {
	cat, err := buildCatalog(cfg)
	if err != nil {
		return err
	}

	userData, err := provisioning.GenerateCloudConfig(cfg.Boot.Packages, cfg.Boot.RunCommands)
	if err != nil {
		return err
	}

	gateway, err := provisioning.NewEC2Gateway(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	var p prompt.Prompter
	if interactive {
		p = prompt.New(os.Stdin, os.Stdout, plain)
	}

	ledger, err := state.NewStore(cfg.State)
	if err != nil {
		logging.Logger().Warn("Launch history disabled", zap.Error(err))
	}
	if ledger != nil {
		defer func() {
			if err := ledger.Close(); err != nil {
				logging.Logger().Warn("failed to close launch history", zap.Error(err))
			}
		}()
	}

	opts := launcher.Options{
		Interactive:    interactive,
		PollInterval:   cfg.Poll.Interval,
		MaxPolls:       cfg.Poll.MaxAttempts,
		Timeout:        cfg.Poll.Timeout,
		DefaultKeyPath: cfg.SSH.PublicKeyPath,
		InstanceName:   "ec2launch-" + strconv.FormatInt(time.Now().Unix(), 10),
		UserData:       userData,
		Output:         os.Stdout,
		Store:          ledger,
	}

	var then launcher.Continuation
	if setup {
		then = setupContinuation(opts.Output, cfg.SSH, opts.InstanceName)
	}

	_, err = launcher.New(gateway, cat, p, opts).Launch(ctx, defaults, then)
	if err != nil {
		if code := provisioning.APIErrorCode(err); code != "" {
			logging.Logger().Error("EC2 request failed", zap.String("code", code), zap.Error(err))
		}
		var terminal *launcher.TerminalStateError
		if errors.As(err, &terminal) {
			logging.Logger().Error("Instance did not reach running",
				zap.String("instance_id", terminal.InstanceID),
				zap.String("status", terminal.Status.String()))
		}
		return err
	}
	return nil
}

// setupContinuation writes the endpoint to out and then runs the configured
// setup commands over SSH.
func setupContinuation(out io.Writer, sshCfg config.SSHConfig, name string) launcher.Continuation {
	return func(ctx context.Context, instance provisioning.Instance, endpoint string) error {
		if _, err := fmt.Fprintln(out, endpoint); err != nil {
			return fmt.Errorf("failed to write endpoint: %w", err)
		}

		if len(sshCfg.SetupCommands) == 0 {
			logging.Logger().Info("No setup commands configured", zap.String("instance_id", instance.ID))
			return nil
		}

		keyPath, err := config.ExpandHome(sshCfg.PrivateKeyPath)
		if err != nil {
			return err
		}
		ctrl, err := control.NewController(ctx, control.Config{
			Host:             endpoint,
			User:             sshCfg.User,
			PrivateKeyPath:   keyPath,
			PortTimeout:      sshCfg.Timeout,
			HandshakeTimeout: 30 * time.Second,
			InstanceName:     name,
			Output:           os.Stderr,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := ctrl.Close(); err != nil {
				logging.Logger().Warn("failed to close SSH connection", zap.Error(err))
			}
		}()
		return control.RunSetup(ctrl, sshCfg.SetupCommands)
	}
}
