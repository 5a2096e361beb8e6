package launcher

import (
	"context"
	"errors"
	"fmt"

	"ec2launch/internal/catalog"
	"ec2launch/internal/config"
	"ec2launch/internal/logging"
	"ec2launch/internal/prompt"
	"ec2launch/internal/ssh"

	"go.uber.org/zap"
)

// session is the in-progress state of one interactive resolution.
type session struct {
	l      *Launcher
	region string
	cfg    Configuration
}

// step resolves one parameter. Steps run in order because later lists are
// scoped by the region picked first.
type step struct {
	name string
	run  func(ctx context.Context, s *session) error
}

var interactiveSteps = []step{
	{"region", selectRegion},
	{"zone", selectZone},
	{"security group", selectSecurityGroup},
	{"instance type", selectInstanceType},
	{"architecture", selectArchitecture},
	{"storage type", selectStorageType},
	{"key", selectKey},
}

func (l *Launcher) resolveInteractive(ctx context.Context, defaults Configuration) (Configuration, error) {
	s := &session{l: l, cfg: defaults}
	for _, st := range interactiveSteps {
		if err := st.run(ctx, s); err != nil {
			return Configuration{}, fmt.Errorf("select %s: %w", st.name, err)
		}
		logging.Logger().Debug("Parameter selected", zap.String("step", st.name))
	}
	return s.cfg, nil
}

// choose shows values as a numbered menu and maps the answer back to a value.
func choose[T any](ctx context.Context, p prompt.Prompter, question string, values []T, label func(T) string) (T, error) {
	var zero T
	if len(values) == 0 {
		return zero, prompt.ErrNoChoices
	}
	items := make([]string, len(values))
	for i, v := range values {
		items[i] = label(v)
	}
	menu := prompt.Menu{Question: question, Items: items}
	n, err := p.Select(ctx, menu)
	if err != nil {
		return zero, err
	}
	if n < 1 || n > len(values) {
		return zero, &prompt.InvalidChoiceError{Input: fmt.Sprint(n), Min: 1, Max: len(values)}
	}
	return values[n-1], nil
}

func identity(s string) string { return s }

func selectRegion(ctx context.Context, s *session) error {
	regions, err := s.l.gateway.ListRegions(ctx)
	if err != nil {
		return err
	}
	region, err := choose(ctx, s.l.prompter, "Which region do you want to deploy in?", regions, identity)
	if err != nil {
		return err
	}
	// Fail before the remaining questions when no image exists for the region.
	if _, ok := s.l.catalog.Images(region); !ok {
		return &catalog.UnsupportedRegionError{Region: region}
	}
	s.region = region
	return nil
}

func selectZone(ctx context.Context, s *session) error {
	zones, err := s.l.gateway.ListZones(ctx, s.region)
	if err != nil {
		return err
	}
	zone, err := choose(ctx, s.l.prompter, fmt.Sprintf("Which availability zone in %s?", s.region), zones, identity)
	if err != nil {
		return err
	}
	s.cfg.Zone = zone
	return nil
}

func selectSecurityGroup(ctx context.Context, s *session) error {
	groups, err := s.l.gateway.ListSecurityGroups(ctx, s.region)
	if err != nil {
		return err
	}
	group, err := choose(ctx, s.l.prompter, "Which security group should the instance belong to?", groups, identity)
	if err != nil {
		return err
	}
	s.cfg.SecurityGroup = group
	return nil
}

func selectInstanceType(ctx context.Context, s *session) error {
	instanceType, err := choose(ctx, s.l.prompter, "Which instance type would you like to deploy?", catalog.InstanceTypes, identity)
	if err != nil {
		return err
	}
	s.cfg.InstanceType = instanceType
	return nil
}

func selectArchitecture(ctx context.Context, s *session) error {
	arch, err := choose(ctx, s.l.prompter, "Which architecture would you like?",
		[]catalog.Architecture{catalog.Arch64, catalog.Arch32},
		func(a catalog.Architecture) string { return a.String() + "-bit" })
	if err != nil {
		return err
	}
	s.cfg.Architecture = arch
	return nil
}

func selectStorageType(ctx context.Context, s *session) error {
	store, err := choose(ctx, s.l.prompter, "Which root storage would you like?",
		[]catalog.StorageType{catalog.StorageEBS, catalog.StorageInstance},
		catalog.StorageType.String)
	if err != nil {
		return err
	}
	s.cfg.StorageType = store
	return nil
}

func selectKey(ctx context.Context, s *session) error {
	keys, err := s.l.gateway.ListKeyPairs(ctx, s.region)
	if err != nil {
		return err
	}
	n, err := s.l.prompter.Select(ctx, prompt.Menu{
		Question: "Which security key will you use?",
		Items:    keys,
		Zero:     "Upload new key",
	})
	if err != nil {
		return err
	}
	if n == 0 {
		name, err := s.importKey(ctx)
		if err != nil {
			return err
		}
		s.cfg.KeyName = name
		return nil
	}
	if n < 1 || n > len(keys) {
		return &prompt.InvalidChoiceError{Input: fmt.Sprint(n), Min: 0, Max: len(keys)}
	}
	s.cfg.KeyName = keys[n-1]
	return nil
}

// importKey asks for a key name and public key file, then registers the key
// in the selected region.
func (s *session) importKey(ctx context.Context) (string, error) {
	hostname, err := s.l.opts.Hostname()
	if err != nil {
		logging.Logger().Warn("failed to read hostname", zap.Error(err))
		hostname = ""
	}

	name, err := s.l.prompter.Input(ctx, "Key name", hostname)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", errors.New("key name is required")
	}

	location, err := s.l.prompter.Input(ctx, "Key location", s.l.opts.DefaultKeyPath)
	if err != nil {
		return "", err
	}
	path, err := config.ExpandHome(location)
	if err != nil {
		return "", err
	}

	publicKey, err := s.l.opts.ReadPublicKey(path, location == s.l.opts.DefaultKeyPath)
	if err != nil {
		return "", err
	}

	fields := []zap.Field{
		zap.String("key_name", name),
		zap.String("region", s.region),
		zap.String("path", path),
	}
	if fp, err := ssh.Fingerprint(publicKey); err == nil {
		fields = append(fields, zap.String("fingerprint", fp))
	} else {
		fields = append(fields, zap.NamedError("fingerprint_error", err))
	}
	logging.Logger().Info("Importing key pair", fields...)

	return s.l.gateway.ImportKeyPair(ctx, s.region, name, publicKey)
}
