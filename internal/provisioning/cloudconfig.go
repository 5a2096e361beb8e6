package provisioning

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const cloudConfigHeader = "#cloud-config\n"

// CloudConfig is the subset of cloud-init user data the launcher emits.
type CloudConfig struct {
	PackageUpdate bool     `yaml:"package_update,omitempty"`
	Packages      []string `yaml:"packages,omitempty"`
	RunCommands   []string `yaml:"runcmd,omitempty"`
}

// GenerateCloudConfig renders cloud-config user data that installs packages
// and runs commands on first boot. It returns an empty string when there is
// nothing to do.
func GenerateCloudConfig(packages, commands []string) (string, error) {
	if len(packages) == 0 && len(commands) == 0 {
		return "", nil
	}

	data := CloudConfig{
		PackageUpdate: len(packages) > 0,
		Packages:      packages,
		RunCommands:   commands,
	}

	out, err := yaml.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to render cloud-config: %w", err)
	}
	return cloudConfigHeader + string(out), nil
}
