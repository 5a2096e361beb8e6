package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"ec2launch/internal/logging"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const sshPort = "22"

// portPollInterval is the delay between SSH port probes.
var portPollInterval = 10 * time.Second

// Client is an SSH connection to a launched instance.
type Client struct {
	conn   *ssh.Client
	target string
	name   string
	output io.Writer
}

// Dial waits for the SSH port, then authenticates with the private key at
// config.PrivateKeyPath.
func Dial(ctx context.Context, config Config) (*Client, error) {
	signer, err := loadSigner(config.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	if err := WaitForPort(ctx, config.Host, sshPort, config.PortTimeout); err != nil {
		return nil, fmt.Errorf("SSH not available: %w", err)
	}

	target := net.JoinHostPort(config.Host, sshPort)
	clientConfig := &ssh.ClientConfig{
		User: config.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// The instance was created moments ago; there is no known host key yet.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         config.HandshakeTimeout,
	}

	dialer := net.Dialer{Timeout: config.HandshakeTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	if config.HandshakeTimeout > 0 {
		_ = raw.SetDeadline(time.Now().Add(config.HandshakeTimeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, target, clientConfig)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", target, err)
	}
	_ = raw.SetDeadline(time.Time{})

	logging.Logger().Info("SSH connection established",
		zap.String("user", config.User),
		zap.String("target", target),
		zap.String("instance_name", config.InstanceName))

	output := config.Output
	if output == nil {
		output = io.Discard
	}
	return &Client{
		conn:   ssh.NewClient(c, chans, reqs),
		target: target,
		name:   config.InstanceName,
		output: output,
	}, nil
}

// Close closes the SSH connection
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// GetInstanceName returns the instance name
func (c *Client) GetInstanceName() string {
	return c.name
}

// Run executes command in a new session, streaming its output.
func (c *Client) Run(command string) error {
	session, err := c.conn.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	session.Stdout = c.output
	session.Stderr = c.output

	start := time.Now()
	err = session.Run(command)

	fields := []zap.Field{
		zap.String("command", logging.Truncate(command)),
		zap.String("target", c.target),
		zap.Duration("took", time.Since(start)),
	}
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		logging.Logger().Info("Command succeeded", fields...)
	case errors.As(err, &exitErr):
		logging.Logger().Warn("Command failed", append(fields, zap.Int("exit_status", exitErr.ExitStatus()))...)
	default:
		logging.Logger().Warn("Command failed", append(fields, zap.Error(err))...)
	}
	return err
}

// WaitForPort waits until host:port accepts TCP connections, the timeout
// expires, or ctx is done. A zero timeout waits on ctx alone.
func WaitForPort(ctx context.Context, host, port string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(host, port)
	dialer := net.Dialer{Timeout: 5 * time.Second}
	for attempt := 1; ; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		logging.Logger().Debug("Port not open yet",
			zap.String("addr", addr),
			zap.Int("attempt", attempt),
			zap.Error(err))

		timer := time.NewTimer(portPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s not reachable: %w", addr, ctx.Err())
		case <-timer.C:
		}
	}
}

func loadSigner(path string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return signer, nil
}
