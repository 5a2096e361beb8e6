package provisioning

import (
	"context"
	"errors"
)

// ErrNoEndpoint is returned when a running instance has neither a public DNS
// name nor a public IP address.
var ErrNoEndpoint = errors.New("instance has no public endpoint")

// LaunchRequest describes the single instance to create.
type LaunchRequest struct {
	ImageID       string
	Zone          string
	Region        string
	SecurityGroup string
	InstanceType  string
	KeyName       string
	// ClientToken makes the create call idempotent on the provider side.
	ClientToken string
	Name        string
	// UserData is plain cloud-init text; the gateway encodes it.
	UserData string
}

// Instance identifies a created instance. Its status is owned by the provider
// and only observed through Gateway.GetStatus.
type Instance struct {
	ID          string
	Region      string
	Zone        string
	ImageID     string
	ClientToken string
}

// Status is the observed lifecycle state of an instance.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusFailed
	StatusTerminated
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Gateway is the provider capability consumed by the launch workflow.
type Gateway interface {
	ListRegions(ctx context.Context) ([]string, error)
	ListZones(ctx context.Context, region string) ([]string, error)
	ListSecurityGroups(ctx context.Context, region string) ([]string, error)
	ListKeyPairs(ctx context.Context, region string) ([]string, error)
	ImportKeyPair(ctx context.Context, region, name string, publicKey []byte) (string, error)
	CreateInstance(ctx context.Context, req LaunchRequest) (*Instance, error)
	GetStatus(ctx context.Context, instance Instance) (Status, error)
	GetEndpoint(ctx context.Context, instance Instance) (string, error)
}
