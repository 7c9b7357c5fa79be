package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFile is the OCI config document inside a bundle
	ConfigFile = "config.json"

	// ContainerConfigFile holds the optional per-container daemon config
	ContainerConfigFile = "burrow.yaml"
)

// LoadBundle reads and checks the OCI config document of bundle. The root
// path is made absolute so the document stays valid when written elsewhere.
func LoadBundle(bundle string) (*specs.Spec, error) {
	abs, err := filepath.Abs(bundle)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %v: %w", bundle, err, types.ErrInvalidBundle)
	}
	data, err := os.ReadFile(filepath.Join(abs, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %v: %w", bundle, err, types.ErrInvalidBundle)
	}

	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("bundle %s: malformed %s: %v: %w", bundle, ConfigFile, err, types.ErrInvalidBundle)
	}

	switch {
	case spec.Version == "":
		return nil, fmt.Errorf("bundle %s: missing ociVersion: %w", bundle, types.ErrInvalidBundle)
	case spec.Root == nil || spec.Root.Path == "":
		return nil, fmt.Errorf("bundle %s: missing root path: %w", bundle, types.ErrInvalidBundle)
	case spec.Process == nil || len(spec.Process.Args) == 0:
		return nil, fmt.Errorf("bundle %s: missing process args: %w", bundle, types.ErrInvalidBundle)
	}

	if !filepath.IsAbs(spec.Root.Path) {
		spec.Root.Path = filepath.Join(abs, spec.Root.Path)
	}
	if _, err := os.Stat(spec.Root.Path); err != nil {
		return nil, fmt.Errorf("bundle %s: rootfs: %v: %w", bundle, err, types.ErrInvalidBundle)
	}
	return &spec, nil
}

// BundleDir is where the daemon keeps the config document it hands to the
// runtime for container id
func BundleDir(dataDir, id string) string {
	return filepath.Join(dataDir, "bundles", id)
}

// WritePrivateBundle writes spec as the config document of the daemon-private
// bundle of id and returns the bundle directory
func WritePrivateBundle(dataDir, id string, spec *specs.Spec) (string, error) {
	dir := BundleDir(dataDir, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create bundle directory: %w", err)
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	tmp := filepath.Join(dir, ConfigFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, ConfigFile)); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return dir, nil
}

// RemovePrivateBundle deletes the daemon-private bundle of id
func RemovePrivateBundle(dataDir, id string) error {
	return os.RemoveAll(BundleDir(dataDir, id))
}

// LoadContainerConfig reads burrow.yaml next to the bundle's config document.
// A bundle without one gets an empty config.
func LoadContainerConfig(bundle string) (*types.ContainerConfig, error) {
	data, err := os.ReadFile(filepath.Join(bundle, ContainerConfigFile))
	if errors.Is(err, os.ErrNotExist) {
		return &types.ContainerConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %v: %w", bundle, err, types.ErrInvalidBundle)
	}
	return ParseContainerConfig(data)
}

// ParseContainerConfig decodes and validates a YAML container config
func ParseContainerConfig(data []byte) (*types.ContainerConfig, error) {
	var cfg types.ContainerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("malformed %s: %v: %w", ContainerConfigFile, err, types.ErrInvalidBundle)
	}
	if err := config.Validator().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid %s: %v: %w", ContainerConfigFile, err, types.ErrInvalidBundle)
	}
	return &cfg, nil
}

// CloneSpec returns a deep copy of spec
func CloneSpec(spec *specs.Spec) (*specs.Spec, error) {
	if spec == nil {
		return nil, nil
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	var out specs.Spec
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
