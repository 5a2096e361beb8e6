// Package control runs commands on a freshly launched instance over SSH.
package control

import (
	"context"
	"fmt"
	"io"
	"time"

	"ec2launch/internal/logging"

	"go.uber.org/zap"
)

// Controller executes commands on one remote host.
type Controller interface {
	Close() error
	Run(command string) error
	GetInstanceName() string
}

// Config describes how to reach the instance.
type Config struct {
	Host           string
	User           string
	PrivateKeyPath string
	// PortTimeout bounds the wait for sshd to accept connections.
	PortTimeout time.Duration
	// HandshakeTimeout bounds the SSH handshake once the port is open.
	HandshakeTimeout time.Duration
	InstanceName     string
	// Output receives remote stdout and stderr. Nil discards it.
	Output io.Writer
}

// NewController waits for the instance to accept SSH and connects.
func NewController(ctx context.Context, config Config) (Controller, error) {
	return Dial(ctx, config)
}

// RunSetup executes commands in order and stops at the first failure.
func RunSetup(c Controller, commands []string) error {
	for i, cmd := range commands {
		logging.Logger().Debug("Executing setup command",
			zap.Int("step", i+1),
			zap.Int("total", len(commands)),
			zap.String("instance", c.GetInstanceName()),
			zap.String("command", logging.Truncate(cmd)))

		if err := c.Run(cmd); err != nil {
			return fmt.Errorf("setup command %d/%d failed: %w", i+1, len(commands), err)
		}
	}
	return nil
}
