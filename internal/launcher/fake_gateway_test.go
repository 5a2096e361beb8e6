package launcher_test

import (
	"context"

	"ec2launch/internal/provisioning"
)

type importCall struct {
	Region    string
	Name      string
	PublicKey []byte
}

// fakeGateway implements provisioning.Gateway and records every call.
type fakeGateway struct {
	regions []string
	zones   map[string][]string
	groups  map[string][]string
	keys    map[string][]string

	statuses  []provisioning.Status
	statusErr error
	createErr error
	endpoint  string

	creates       []provisioning.LaunchRequest
	imports       []importCall
	listCalls     int
	statusCalls   int
	endpointCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		regions: []string{"eu-west-1", "us-east-1"},
		zones: map[string][]string{
			"us-east-1": {"us-east-1a", "us-east-1b"},
			"eu-west-1": {"eu-west-1a", "eu-west-1b"},
		},
		groups: map[string][]string{
			"us-east-1": {"default", "web"},
			"eu-west-1": {"default"},
		},
		keys: map[string][]string{
			"us-east-1": {"mykey", "ci"},
			"eu-west-1": {"laptop"},
		},
		statuses: []provisioning.Status{provisioning.StatusRunning},
		endpoint: "ec2-54-1-2-3.compute-1.amazonaws.com",
	}
}

func (f *fakeGateway) ListRegions(ctx context.Context) ([]string, error) {
	f.listCalls++
	return f.regions, nil
}

func (f *fakeGateway) ListZones(ctx context.Context, region string) ([]string, error) {
	f.listCalls++
	return f.zones[region], nil
}

func (f *fakeGateway) ListSecurityGroups(ctx context.Context, region string) ([]string, error) {
	f.listCalls++
	return f.groups[region], nil
}

func (f *fakeGateway) ListKeyPairs(ctx context.Context, region string) ([]string, error) {
	f.listCalls++
	return f.keys[region], nil
}

func (f *fakeGateway) ImportKeyPair(ctx context.Context, region, name string, publicKey []byte) (string, error) {
	f.imports = append(f.imports, importCall{Region: region, Name: name, PublicKey: publicKey})
	return name, nil
}

func (f *fakeGateway) CreateInstance(ctx context.Context, req provisioning.LaunchRequest) (*provisioning.Instance, error) {
	f.creates = append(f.creates, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &provisioning.Instance{
		ID:          "i-0abc",
		Region:      req.Region,
		Zone:        req.Zone,
		ImageID:     req.ImageID,
		ClientToken: req.ClientToken,
	}, nil
}

func (f *fakeGateway) GetStatus(ctx context.Context, instance provisioning.Instance) (provisioning.Status, error) {
	call := f.statusCalls
	f.statusCalls++
	if f.statusErr != nil {
		return provisioning.StatusUnknown, f.statusErr
	}
	if call >= len(f.statuses) {
		return f.statuses[len(f.statuses)-1], nil
	}
	return f.statuses[call], nil
}

func (f *fakeGateway) GetEndpoint(ctx context.Context, instance provisioning.Instance) (string, error) {
	f.endpointCalls++
	if f.endpoint == "" {
		return "", provisioning.ErrNoEndpoint
	}
	return f.endpoint, nil
}
