package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor EC2LAUNCH_CONFIG is set.
const DefaultPath = "ec2launch.yaml"

// ErrMissingCredentials is returned when AWS access keys are not configured.
var ErrMissingCredentials = errors.New("AWS credentials are required (set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY)")

// Config contains application configuration
type Config struct {
	AWS      AWSConfig           `yaml:"aws"`
	Defaults LaunchDefaults      `yaml:"defaults"`
	Poll     PollConfig          `yaml:"poll"`
	Images   map[string][]string `yaml:"images"`
	State    StateConfig         `yaml:"state"`
	SSH      SSHConfig           `yaml:"ssh"`
	Boot     BootConfig          `yaml:"boot"`
}

// AWSConfig holds the API credentials. Values are opaque and never logged.
type AWSConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// Validate checks that both keys are present.
func (c AWSConfig) Validate() error {
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return ErrMissingCredentials
	}
	return nil
}

// LaunchDefaults seeds the launch parameters before flags are applied.
type LaunchDefaults struct {
	Zone          string `yaml:"zone"`
	SecurityGroup string `yaml:"group"`
	InstanceType  string `yaml:"instance_type"`
	Architecture  string `yaml:"arch"`
	StorageType   string `yaml:"store"`
	KeyName       string `yaml:"key_name"`
}

// PollConfig bounds the wait for the instance to leave the pending state.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"` // 0 means unbounded
	Timeout     time.Duration `yaml:"timeout"`      // 0 means no deadline
}

// StateConfig selects where launch records are kept.
// Etcd endpoints take precedence over the file path.
type StateConfig struct {
	Path          string   `yaml:"path"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	Disabled      bool     `yaml:"disabled"`
}

// SSHConfig drives the optional post-launch setup over SSH.
type SSHConfig struct {
	User           string        `yaml:"user"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	PublicKeyPath  string        `yaml:"public_key_path"`
	Timeout        time.Duration `yaml:"timeout"`
	SetupCommands  []string      `yaml:"setup_commands"`
}

// BootConfig is rendered into cloud-init user data for the first boot.
type BootConfig struct {
	Packages    []string `yaml:"packages"`
	RunCommands []string `yaml:"runcmd"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Defaults: LaunchDefaults{
			Zone:          "us-east-1a",
			SecurityGroup: "default",
			InstanceType:  "t1.micro",
			Architecture:  "64",
			StorageType:   "ebs",
		},
		Poll: PollConfig{
			Interval:    time.Second,
			MaxAttempts: 600,
			Timeout:     15 * time.Minute,
		},
		State: StateConfig{
			Path: "~/.ec2launch/launches.json",
		},
		SSH: SSHConfig{
			User:           "ubuntu",
			PrivateKeyPath: "~/.ssh/id_rsa",
			PublicKeyPath:  "~/.ssh/id_rsa.pub",
			Timeout:        5 * time.Minute,
		},
	}
}

// ResolvePath picks the config file location: explicit flag, then
// EC2LAUNCH_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("EC2LAUNCH_CONFIG"); env != "" {
		return env
	}
	return DefaultPath
}

// Load loads configuration from a YAML file. A missing file is not an error
// unless the path was given explicitly.
func Load(path string, explicit bool) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.expandEnv()

	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		config.AWS.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		config.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("AWS_SESSION_TOKEN"); v != "" {
		config.AWS.SessionToken = v
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that cannot be caught by YAML decoding.
// Credentials are checked separately by commands that call AWS.
func (c *Config) Validate() error {
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %v", c.Poll.Interval)
	}
	if c.Poll.MaxAttempts < 0 {
		return fmt.Errorf("poll.max_attempts must not be negative, got %d", c.Poll.MaxAttempts)
	}
	if c.Poll.Timeout < 0 {
		return fmt.Errorf("poll.timeout must not be negative, got %v", c.Poll.Timeout)
	}
	for region, images := range c.Images {
		if len(images) != 4 {
			return fmt.Errorf("images.%s must list 4 images (64/ebs, 64/instance, 32/ebs, 32/instance), got %d", region, len(images))
		}
	}
	return nil
}

func (c *Config) expandEnv() {
	c.AWS.AccessKeyID = os.ExpandEnv(c.AWS.AccessKeyID)
	c.AWS.SecretAccessKey = os.ExpandEnv(c.AWS.SecretAccessKey)
	c.AWS.SessionToken = os.ExpandEnv(c.AWS.SessionToken)

	c.Defaults.Zone = os.ExpandEnv(c.Defaults.Zone)
	c.Defaults.SecurityGroup = os.ExpandEnv(c.Defaults.SecurityGroup)
	c.Defaults.InstanceType = os.ExpandEnv(c.Defaults.InstanceType)
	c.Defaults.KeyName = os.ExpandEnv(c.Defaults.KeyName)

	c.State.Path = os.ExpandEnv(c.State.Path)
	c.SSH.User = os.ExpandEnv(c.SSH.User)
	c.SSH.PrivateKeyPath = os.ExpandEnv(c.SSH.PrivateKeyPath)
	c.SSH.PublicKeyPath = os.ExpandEnv(c.SSH.PublicKeyPath)
	for i, cmd := range c.SSH.SetupCommands {
		c.SSH.SetupCommands[i] = os.ExpandEnv(cmd)
	}
	for i, cmd := range c.Boot.RunCommands {
		c.Boot.RunCommands[i] = os.ExpandEnv(cmd)
	}
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
