package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Architecture selects the CPU word size of the image.
type Architecture int

const (
	Arch64 Architecture = iota
	Arch32
)

// StorageType selects how the instance root device is backed.
type StorageType int

const (
	// StorageEBS is a network-backed root volume that outlives the instance.
	StorageEBS StorageType = iota
	// StorageInstance is an ephemeral instance-local root volume.
	StorageInstance
)

var (
	ErrInvalidArchitecture = errors.New("invalid architecture")
	ErrInvalidStorageType  = errors.New("invalid storage type")
)

// UnsupportedRegionError is returned when the catalog has no images for a region.
type UnsupportedRegionError struct {
	Region string
}

func (e *UnsupportedRegionError) Error() string {
	return fmt.Sprintf("unsupported region %q: no images in catalog", e.Region)
}

// ParseArchitecture accepts "64" or "32".
func ParseArchitecture(s string) (Architecture, error) {
	switch strings.TrimSpace(s) {
	case "64":
		return Arch64, nil
	case "32":
		return Arch32, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidArchitecture, s)
	}
}

func (a Architecture) String() string {
	switch a {
	case Arch64:
		return "64"
	case Arch32:
		return "32"
	default:
		return fmt.Sprintf("Architecture(%d)", int(a))
	}
}

// Valid reports whether a is a known architecture.
func (a Architecture) Valid() bool {
	return a == Arch64 || a == Arch32
}

// ParseStorageType accepts "ebs" or "instance".
func ParseStorageType(s string) (StorageType, error) {
	switch strings.TrimSpace(s) {
	case "ebs":
		return StorageEBS, nil
	case "instance":
		return StorageInstance, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidStorageType, s)
	}
}

func (s StorageType) String() string {
	switch s {
	case StorageEBS:
		return "ebs"
	case StorageInstance:
		return "instance"
	default:
		return fmt.Sprintf("StorageType(%d)", int(s))
	}
}

// Valid reports whether s is a known storage type.
func (s StorageType) Valid() bool {
	return s == StorageEBS || s == StorageInstance
}

// Index returns the position of the (architecture, storage) pair inside a
// region entry. Externally maintained image tables rely on this layout.
func Index(arch Architecture, store StorageType) int {
	return int(arch)*2 + int(store)
}

// Entry holds the four images of one region ordered
// 64/ebs, 64/instance, 32/ebs, 32/instance.
type Entry [4]string

// Catalog maps regions to their image entries. The zero value is empty.
type Catalog struct {
	entries map[string]Entry
}

// New builds a catalog from a region table, rejecting incomplete entries.
func New(table map[string]Entry) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]Entry, len(table))}
	for region, entry := range table {
		if err := validateEntry(region, entry); err != nil {
			return nil, err
		}
		c.entries[region] = entry
	}
	return c, nil
}

// Default returns the built-in Ubuntu 12.04 image table.
func Default() *Catalog {
	c, err := New(ubuntuImages)
	if err != nil {
		panic(fmt.Sprintf("built-in image table is invalid: %v", err))
	}
	return c
}

// WithOverrides returns a copy of c where the given regions are added or replaced.
func (c *Catalog) WithOverrides(overrides map[string]Entry) (*Catalog, error) {
	merged := make(map[string]Entry, len(c.entries)+len(overrides))
	for region, entry := range c.entries {
		merged[region] = entry
	}
	for region, entry := range overrides {
		merged[region] = entry
	}
	return New(merged)
}

// Lookup returns the image for region, architecture and storage type.
func (c *Catalog) Lookup(region string, arch Architecture, store StorageType) (string, error) {
	if !arch.Valid() {
		return "", fmt.Errorf("%w: %d", ErrInvalidArchitecture, int(arch))
	}
	if !store.Valid() {
		return "", fmt.Errorf("%w: %d", ErrInvalidStorageType, int(store))
	}
	entry, ok := c.entries[region]
	if !ok {
		return "", &UnsupportedRegionError{Region: region}
	}
	return entry[Index(arch, store)], nil
}

// Images returns the entry for region.
func (c *Catalog) Images(region string) (Entry, bool) {
	entry, ok := c.entries[region]
	return entry, ok
}

// Regions returns the supported regions in lexical order.
func (c *Catalog) Regions() []string {
	regions := make([]string, 0, len(c.entries))
	for region := range c.entries {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

func validateEntry(region string, entry Entry) error {
	if strings.TrimSpace(region) == "" {
		return fmt.Errorf("image table has an entry with an empty region")
	}
	for i, id := range entry {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("region %s: image %d is empty", region, i)
		}
	}
	return nil
}
