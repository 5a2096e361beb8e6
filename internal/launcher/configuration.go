package launcher

import (
	"errors"
	"fmt"
	"strings"

	"ec2launch/internal/catalog"
)

// ErrInvalidZone is returned for zone names that do not end in a zone letter.
var ErrInvalidZone = errors.New("invalid availability zone")

// Configuration is a fully resolved launch request.
type Configuration struct {
	Zone          string
	SecurityGroup string
	InstanceType  string
	Architecture  catalog.Architecture
	StorageType   catalog.StorageType
	KeyName       string
}

// Region returns the region implied by the zone.
func (c Configuration) Region() (string, error) {
	return RegionFromZone(c.Zone)
}

// Validate checks that every field is set. It does not consult the provider.
func (c Configuration) Validate() error {
	if _, err := c.Region(); err != nil {
		return err
	}
	if strings.TrimSpace(c.SecurityGroup) == "" {
		return errors.New("security group is required")
	}
	if strings.TrimSpace(c.InstanceType) == "" {
		return errors.New("instance type is required")
	}
	if !c.Architecture.Valid() {
		return fmt.Errorf("%w: %d", catalog.ErrInvalidArchitecture, int(c.Architecture))
	}
	if !c.StorageType.Valid() {
		return fmt.Errorf("%w: %d", catalog.ErrInvalidStorageType, int(c.StorageType))
	}
	if strings.TrimSpace(c.KeyName) == "" {
		return errors.New("key name is required (use --key or --interactive)")
	}
	return nil
}

// RegionFromZone drops the trailing zone letter: "us-east-1a" -> "us-east-1".
func RegionFromZone(zone string) (string, error) {
	zone = strings.TrimSpace(zone)
	if len(zone) < 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidZone, zone)
	}
	if last := zone[len(zone)-1]; last < 'a' || last > 'z' {
		return "", fmt.Errorf("%w: %q does not end with a zone letter", ErrInvalidZone, zone)
	}
	return zone[:len(zone)-1], nil
}
