// Package launcher resolves launch parameters and drives the creation of a
// single instance until it leaves the pending state.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"ec2launch/internal/catalog"
	"ec2launch/internal/logging"
	"ec2launch/internal/prompt"
	"ec2launch/internal/provisioning"
	"ec2launch/internal/ssh"
	"ec2launch/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultKeyPath is offered when importing a new key.
const DefaultKeyPath = "~/.ssh/id_rsa.pub"

// ErrPollLimit is returned when the instance is still pending after the
// configured number of status checks.
var ErrPollLimit = errors.New("instance still pending")

// TerminalStateError reports an instance that left pending without running.
type TerminalStateError struct {
	InstanceID string
	Status     provisioning.Status
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("instance %s is %s instead of running", e.InstanceID, e.Status)
}

// UnavailableError reports a configured value the provider does not offer.
type UnavailableError struct {
	Kind   string
	Value  string
	Region string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s %q is not available in %s", e.Kind, e.Value, e.Region)
}

// Continuation receives the running instance and its endpoint in place of
// printing the endpoint.
type Continuation func(ctx context.Context, instance provisioning.Instance, endpoint string) error

// Options tunes a Launcher. Zero values select the defaults.
type Options struct {
	Interactive bool

	// PollInterval is the delay between status checks (default 1s).
	PollInterval time.Duration
	// MaxPolls bounds the number of status checks; 0 means unbounded.
	MaxPolls int
	// Timeout bounds create, polling and completion; 0 means no deadline.
	// Prompts are not covered: the operator may take as long as needed.
	Timeout time.Duration

	DefaultKeyPath string
	InstanceName   string
	// UserData is passed to the instance on first boot.
	UserData string

	// Output receives the endpoint when no continuation is given (default stdout).
	Output io.Writer
	// Store records launches when set.
	Store state.Store

	Hostname       func() (string, error)
	ReadPublicKey  func(path string, defaulted bool) ([]byte, error)
	Wait           func(ctx context.Context, d time.Duration) error
	NewClientToken func() string
}

// Result describes a finished launch.
type Result struct {
	Configuration Configuration
	ImageID       string
	Instance      provisioning.Instance
	Status        provisioning.Status
	Endpoint      string
	Waits         int
}

// Launcher runs the launch workflow for exactly one instance.
type Launcher struct {
	gateway  provisioning.Gateway
	catalog  *catalog.Catalog
	prompter prompt.Prompter
	opts     Options
}

// New creates a Launcher. prompter may be nil in non-interactive mode.
func New(gateway provisioning.Gateway, cat *catalog.Catalog, prompter prompt.Prompter, opts Options) *Launcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.DefaultKeyPath == "" {
		opts.DefaultKeyPath = DefaultKeyPath
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Hostname == nil {
		opts.Hostname = os.Hostname
	}
	if opts.ReadPublicKey == nil {
		opts.ReadPublicKey = readPublicKey
	}
	if opts.Wait == nil {
		opts.Wait = wait
	}
	if opts.NewClientToken == nil {
		opts.NewClientToken = uuid.NewString
	}
	return &Launcher{
		gateway:  gateway,
		catalog:  cat,
		prompter: prompter,
		opts:     opts,
	}
}

// Resolve produces a validated Configuration, either interactively or from defaults.
func (l *Launcher) Resolve(ctx context.Context, defaults Configuration) (Configuration, error) {
	cfg := defaults
	if l.opts.Interactive {
		if l.prompter == nil {
			return Configuration{}, errors.New("interactive mode requires a prompter")
		}
		resolved, err := l.resolveInteractive(ctx, defaults)
		if err != nil {
			return Configuration{}, err
		}
		cfg = resolved
	}

	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	region, _ := cfg.Region()
	if _, err := l.catalog.Lookup(region, cfg.Architecture, cfg.StorageType); err != nil {
		return Configuration{}, err
	}

	if !l.opts.Interactive {
		if err := l.verify(ctx, cfg, region); err != nil {
			return Configuration{}, err
		}
	}
	return cfg, nil
}

// verify checks flag-supplied values against what the provider reports.
func (l *Launcher) verify(ctx context.Context, cfg Configuration, region string) error {
	checks := []struct {
		kind  string
		value string
		list  func(context.Context, string) ([]string, error)
	}{
		{"availability zone", cfg.Zone, l.gateway.ListZones},
		{"security group", cfg.SecurityGroup, l.gateway.ListSecurityGroups},
		{"key pair", cfg.KeyName, l.gateway.ListKeyPairs},
	}

	for _, c := range checks {
		available, err := c.list(ctx, region)
		if err != nil {
			return err
		}
		if !slices.Contains(available, c.value) {
			logging.Logger().Debug("Value not offered by provider",
				zap.String("kind", c.kind),
				zap.String("value", c.value),
				zap.Strings("available", logging.TruncateSlice(available, 10)))
			return &UnavailableError{Kind: c.kind, Value: c.value, Region: region}
		}
	}
	return nil
}

// Launch resolves the configuration, creates one instance and waits for it to
// run. The create call is issued at most once and never retried. When then is
// nil the instance endpoint is written to the output. Options.Timeout starts
// once the configuration is resolved.
func (l *Launcher) Launch(ctx context.Context, defaults Configuration, then Continuation) (*Result, error) {
	cfg, err := l.Resolve(ctx, defaults)
	if err != nil {
		return nil, err
	}

	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	region, err := cfg.Region()
	if err != nil {
		return nil, err
	}
	imageID, err := l.catalog.Lookup(region, cfg.Architecture, cfg.StorageType)
	if err != nil {
		return nil, err
	}

	result := &Result{Configuration: cfg, ImageID: imageID}
	record := state.Record{
		ClientToken:   l.opts.NewClientToken(),
		Region:        region,
		Zone:          cfg.Zone,
		ImageID:       imageID,
		InstanceType:  cfg.InstanceType,
		KeyName:       cfg.KeyName,
		SecurityGroup: cfg.SecurityGroup,
	}

	logging.Logger().Info("Creating instance",
		zap.String("region", region),
		zap.String("zone", cfg.Zone),
		zap.String("image_id", imageID),
		zap.String("instance_type", cfg.InstanceType),
		zap.String("security_group", cfg.SecurityGroup),
		zap.String("key_name", cfg.KeyName),
		zap.String("architecture", cfg.Architecture.String()),
		zap.String("storage", cfg.StorageType.String()))

	instance, err := l.gateway.CreateInstance(ctx, provisioning.LaunchRequest{
		ImageID:       imageID,
		Zone:          cfg.Zone,
		Region:        region,
		SecurityGroup: cfg.SecurityGroup,
		InstanceType:  cfg.InstanceType,
		KeyName:       cfg.KeyName,
		ClientToken:   record.ClientToken,
		Name:          l.opts.InstanceName,
		UserData:      l.opts.UserData,
	})
	if err != nil {
		l.finish(ctx, record, provisioning.StatusUnknown, err)
		return result, err
	}
	result.Instance = *instance
	record.InstanceID = instance.ID
	l.save(ctx, record, provisioning.StatusPending)

	logging.Logger().Info("Instance created, waiting for it to leave pending",
		zap.String("instance_id", instance.ID),
		zap.Duration("poll_interval", l.opts.PollInterval),
		zap.Int("max_polls", l.opts.MaxPolls))

	status, waits, err := l.WaitWhilePending(ctx, *instance)
	result.Status = status
	result.Waits = waits
	if err != nil {
		l.finish(ctx, record, status, err)
		return result, err
	}
	if status != provisioning.StatusRunning {
		err := &TerminalStateError{InstanceID: instance.ID, Status: status}
		l.finish(ctx, record, status, err)
		return result, err
	}

	logging.Logger().Info("Instance running",
		zap.String("instance_id", instance.ID),
		zap.Int("waits", waits))

	endpoint, err := l.gateway.GetEndpoint(ctx, *instance)
	if err != nil {
		l.finish(ctx, record, status, err)
		return result, err
	}
	result.Endpoint = endpoint
	record.Endpoint = endpoint

	if then != nil {
		err = then(ctx, *instance, endpoint)
		l.finish(ctx, record, status, err)
		return result, err
	}
	l.finish(ctx, record, status, nil)

	if _, err := fmt.Fprintln(l.opts.Output, endpoint); err != nil {
		return result, fmt.Errorf("failed to write endpoint: %w", err)
	}
	return result, nil
}

// WaitWhilePending polls the instance status until it is no longer pending.
// It returns the observed status and the number of waits between checks.
func (l *Launcher) WaitWhilePending(ctx context.Context, instance provisioning.Instance) (provisioning.Status, int, error) {
	waits := 0
	for checks := 1; ; checks++ {
		status, err := l.gateway.GetStatus(ctx, instance)
		if err != nil {
			return provisioning.StatusUnknown, waits, err
		}
		if status != provisioning.StatusPending {
			return status, waits, nil
		}
		if l.opts.MaxPolls > 0 && checks >= l.opts.MaxPolls {
			return status, waits, fmt.Errorf("%w: %s after %d status checks", ErrPollLimit, instance.ID, checks)
		}

		logging.Logger().Debug("Instance pending",
			zap.String("instance_id", instance.ID),
			zap.Int("check", checks))

		if err := l.opts.Wait(ctx, l.opts.PollInterval); err != nil {
			return status, waits, err
		}
		waits++
	}
}

func (l *Launcher) finish(ctx context.Context, record state.Record, status provisioning.Status, err error) {
	if err != nil {
		record.Error = err.Error()
	}
	l.save(ctx, record, status)
}

// save records the launch. Ledger failures never fail the launch.
func (l *Launcher) save(ctx context.Context, record state.Record, status provisioning.Status) {
	if l.opts.Store == nil {
		return
	}
	record.Status = status.String()
	// The launch context may already be cancelled; the record still matters.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.opts.Store.Save(saveCtx, record); err != nil {
		logging.Logger().Warn("failed to record launch",
			zap.String("client_token", record.ClientToken),
			zap.Error(err))
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// readPublicKey loads the key file, generating a key pair first when the
// operator accepted the default location and nothing exists there yet.
func readPublicKey(path string, defaulted bool) ([]byte, error) {
	if defaulted {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			kp, err := ssh.EnsureKeyPair(ssh.PrivateKeyPathFor(path), path)
			if err != nil {
				return nil, err
			}
			logging.Logger().Info("Generated SSH key pair",
				zap.String("private_key", kp.PrivateKeyPath),
				zap.String("public_key", kp.PublicKeyPath))
		}
	}
	return ssh.LoadPublicKey(path)
}
