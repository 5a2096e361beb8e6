package provisioning

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"

	"ec2launch/internal/config"
	"ec2launch/internal/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"go.uber.org/zap"
)

// bootstrapRegion is only used to call DescribeRegions.
const bootstrapRegion = "us-east-1"

// ec2API is the subset of *ec2.Client used by EC2Gateway.
type ec2API interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
	DescribeAvailabilityZones(ctx context.Context, params *ec2.DescribeAvailabilityZonesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeKeyPairs(ctx context.Context, params *ec2.DescribeKeyPairsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error)
	ImportKeyPair(ctx context.Context, params *ec2.ImportKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.ImportKeyPairOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// EC2Gateway implements Gateway on top of the EC2 API
type EC2Gateway struct {
	newClient func(region string) ec2API

	mu      sync.Mutex
	clients map[string]ec2API
}

// NewEC2Gateway creates a gateway using the static credentials in cfg.
func NewEC2Gateway(ctx context.Context, cfg config.AWSConfig) (*EC2Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(bootstrapRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newEC2Gateway(func(region string) ec2API {
		return ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
			o.Region = region
		})
	}), nil
}

func newEC2Gateway(newClient func(region string) ec2API) *EC2Gateway {
	return &EC2Gateway{
		newClient: newClient,
		clients:   make(map[string]ec2API),
	}
}

func (g *EC2Gateway) client(region string) ec2API {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.clients[region]
	if !ok {
		c = g.newClient(region)
		g.clients[region] = c
	}
	return c
}

// ListRegions returns the regions enabled for the account.
func (g *EC2Gateway) ListRegions(ctx context.Context) ([]string, error) {
	out, err := g.client(bootstrapRegion).DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe regions: %w", err)
	}
	names := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		names = append(names, aws.ToString(r.RegionName))
	}
	sort.Strings(names)
	return names, nil
}

// ListZones returns the available zones of region.
func (g *EC2Gateway) ListZones(ctx context.Context, region string) ([]string, error) {
	out, err := g.client(region).DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{
		Filters: []types.Filter{
			{Name: aws.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe availability zones in %s: %w", region, err)
	}
	names := make([]string, 0, len(out.AvailabilityZones))
	for _, z := range out.AvailabilityZones {
		names = append(names, aws.ToString(z.ZoneName))
	}
	sort.Strings(names)
	return names, nil
}

// ListSecurityGroups returns security group names in region.
func (g *EC2Gateway) ListSecurityGroups(ctx context.Context, region string) ([]string, error) {
	var names []string
	paginator := ec2.NewDescribeSecurityGroupsPaginator(g.client(region), &ec2.DescribeSecurityGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe security groups in %s: %w", region, err)
		}
		for _, sg := range page.SecurityGroups {
			names = append(names, aws.ToString(sg.GroupName))
		}
	}
	return names, nil
}

// ListKeyPairs returns key pair names registered in region.
func (g *EC2Gateway) ListKeyPairs(ctx context.Context, region string) ([]string, error) {
	out, err := g.client(region).DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe key pairs in %s: %w", region, err)
	}
	names := make([]string, 0, len(out.KeyPairs))
	for _, kp := range out.KeyPairs {
		names = append(names, aws.ToString(kp.KeyName))
	}
	sort.Strings(names)
	return names, nil
}

// ImportKeyPair registers an OpenSSH public key under name.
func (g *EC2Gateway) ImportKeyPair(ctx context.Context, region, name string, publicKey []byte) (string, error) {
	out, err := g.client(region).ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
		KeyName:           aws.String(name),
		PublicKeyMaterial: publicKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to import key pair %s: %w", name, err)
	}

	logging.Logger().Info("Key pair imported",
		zap.String("region", region),
		zap.String("key_name", aws.ToString(out.KeyName)),
		zap.String("fingerprint", aws.ToString(out.KeyFingerprint)))

	return aws.ToString(out.KeyName), nil
}

// CreateInstance issues exactly one RunInstances call.
func (g *EC2Gateway) CreateInstance(ctx context.Context, req LaunchRequest) (*Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:        aws.String(req.ImageID),
		InstanceType:   types.InstanceType(req.InstanceType),
		MinCount:       aws.Int32(1),
		MaxCount:       aws.Int32(1),
		KeyName:        aws.String(req.KeyName),
		SecurityGroups: []string{req.SecurityGroup},
		Placement: &types.Placement{
			AvailabilityZone: aws.String(req.Zone),
		},
	}
	if req.ClientToken != "" {
		input.ClientToken = aws.String(req.ClientToken)
	}
	if req.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(req.UserData)))
	}
	if req.Name != "" {
		input.TagSpecifications = []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String(req.Name)},
				},
			},
		}
	}

	output, err := g.client(req.Region).RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(output.Instances) == 0 || output.Instances[0].InstanceId == nil {
		return nil, fmt.Errorf("failed to run instance: no instance returned")
	}

	return &Instance{
		ID:          aws.ToString(output.Instances[0].InstanceId),
		Region:      req.Region,
		Zone:        req.Zone,
		ImageID:     req.ImageID,
		ClientToken: req.ClientToken,
	}, nil
}

// GetStatus reports the current state of instance. An instance that EC2 does
// not know yet is still pending.
func (g *EC2Gateway) GetStatus(ctx context.Context, instance Instance) (Status, error) {
	inst, err := g.describe(ctx, instance)
	if err != nil {
		if isInstanceNotFound(err) {
			return StatusPending, nil
		}
		return StatusUnknown, err
	}
	if inst == nil || inst.State == nil {
		return StatusPending, nil
	}
	if inst.StateReason != nil {
		logging.Logger().Debug("Instance state",
			zap.String("instance_id", instance.ID),
			zap.String("state", string(inst.State.Name)),
			zap.String("reason", aws.ToString(inst.StateReason.Message)))
	}
	return statusFromState(inst.State.Name), nil
}

// GetEndpoint returns the public DNS name of instance, or its public IP when
// no DNS name is assigned.
func (g *EC2Gateway) GetEndpoint(ctx context.Context, instance Instance) (string, error) {
	inst, err := g.describe(ctx, instance)
	if err != nil {
		return "", err
	}
	if inst == nil {
		return "", fmt.Errorf("instance %s: %w", instance.ID, ErrNoEndpoint)
	}
	if dns := aws.ToString(inst.PublicDnsName); dns != "" {
		return dns, nil
	}
	if ip := aws.ToString(inst.PublicIpAddress); ip != "" {
		return ip, nil
	}
	return "", fmt.Errorf("instance %s: %w", instance.ID, ErrNoEndpoint)
}

func (g *EC2Gateway) describe(ctx context.Context, instance Instance) (*types.Instance, error) {
	desc, err := g.client(instance.Region).DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instance.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", instance.ID, err)
	}
	for _, res := range desc.Reservations {
		for i := range res.Instances {
			if aws.ToString(res.Instances[i].InstanceId) == instance.ID {
				return &res.Instances[i], nil
			}
		}
	}
	return nil, nil
}

func statusFromState(name types.InstanceStateName) Status {
	switch name {
	case types.InstanceStateNamePending:
		return StatusPending
	case types.InstanceStateNameRunning:
		return StatusRunning
	case types.InstanceStateNameShuttingDown, types.InstanceStateNameTerminated:
		return StatusTerminated
	case types.InstanceStateNameStopping, types.InstanceStateNameStopped:
		return StatusFailed
	default:
		return StatusUnknown
	}
}
