package volume

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/plugin"
	"github.com/cuemby/burrow/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

// PluginName is the name containers enable the storage plugin under
const PluginName = "storage"

// createdKey records, for Undo, the volumes a pre-creation hook made
const createdKey = "storage.created"

// Plugin gives containers persistent or per-run directories. Config data:
//
//	volumes    comma separated name:/container/path pairs
//	ephemeral  comma separated volume names deleted at post-stop
type Plugin struct {
	driver *LocalDriver
	logger zerolog.Logger
}

// NewPlugin creates the storage plugin over driver
func NewPlugin(driver *LocalDriver) *Plugin {
	return &Plugin{driver: driver, logger: log.WithComponent("volume")}
}

func (p *Plugin) Name() string { return PluginName }

func (p *Plugin) Stages() []types.Stage {
	return []types.Stage{types.StagePreCreation, types.StagePostStop}
}

func (p *Plugin) Dependencies() []string { return nil }

func (p *Plugin) Run(ctx context.Context, stage types.Stage, hc *plugin.HookContext) error {
	vols, err := parseVolumes(hc.ID, hc.PluginData(PluginName))
	if err != nil {
		return err
	}

	switch stage {
	case types.StagePreCreation:
		return p.mount(hc, vols)
	case types.StagePostStop:
		var errs []error
		for _, v := range vols {
			if v.Ephemeral {
				errs = append(errs, p.driver.Delete(v))
			}
		}
		return errors.Join(errs...)
	}
	return nil
}

func (p *Plugin) mount(hc *plugin.HookContext, vols []*Volume) error {
	if hc.Spec == nil {
		return fmt.Errorf("no config document: %w", types.ErrInvalidBundle)
	}

	var created []string
	for _, v := range vols {
		path, fresh, err := p.driver.Create(v)
		if err != nil {
			return err
		}
		if fresh {
			created = append(created, v.Name)
		}
		hc.Spec.Mounts = append(hc.Spec.Mounts, specs.Mount{
			Destination: v.Destination,
			Type:        "bind",
			Source:      path,
			Options:     []string{"rbind", "rw"},
		})
		p.logger.Debug().
			Str("container_id", hc.ID).
			Str("volume", v.Name).
			Str("source", path).
			Str("destination", v.Destination).
			Msg("Volume mounted")
	}
	hc.Set(createdKey, strings.Join(created, ","))
	return nil
}

// Undo deletes the volumes the failed creation made. Volumes that existed
// before keep their contents.
func (p *Plugin) Undo(ctx context.Context, stage types.Stage, hc *plugin.HookContext) error {
	if stage != types.StagePreCreation || hc.Values[createdKey] == "" {
		return nil
	}
	var errs []error
	for _, name := range strings.Split(hc.Values[createdKey], ",") {
		errs = append(errs, p.driver.Delete(&Volume{Container: hc.ID, Name: name}))
	}
	return errors.Join(errs...)
}

func parseVolumes(id string, data map[string]string) ([]*Volume, error) {
	if data["volumes"] == "" {
		return nil, nil
	}

	ephemeral := make(map[string]bool)
	for _, name := range strings.Split(data["ephemeral"], ",") {
		if name = strings.TrimSpace(name); name != "" {
			ephemeral[name] = true
		}
	}

	var vols []*Volume
	seen := make(map[string]bool)
	for _, entry := range strings.Split(data["volumes"], ",") {
		name, dest, ok := strings.Cut(strings.TrimSpace(entry), ":")
		switch {
		case !ok:
			return nil, fmt.Errorf("volume %q: expected name:/path", entry)
		case !validName.MatchString(name):
			return nil, fmt.Errorf("invalid volume name %q", name)
		case !filepath.IsAbs(dest):
			return nil, fmt.Errorf("volume %s: destination %q is not absolute", name, dest)
		case seen[name]:
			return nil, fmt.Errorf("volume %s listed twice", name)
		}
		seen[name] = true
		vols = append(vols, &Volume{
			Container:   id,
			Name:        name,
			Destination: filepath.Clean(dest),
			Ephemeral:   ephemeral[name],
		})
	}
	return vols, nil
}
