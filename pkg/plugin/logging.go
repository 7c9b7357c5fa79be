package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/types"
)

// Logging points the container's stdout and stderr at a per-container file
// and announces the file to the log relay. Config data: "sink" ("file" or
// "null") and "path" (overrides the default location under the data dir).
type Logging struct {
	dir    string
	broker *events.Broker
}

// NewLogging creates the logging plugin writing under dataDir/logs. broker
// may be nil.
func NewLogging(dataDir string, broker *events.Broker) *Logging {
	return &Logging{dir: filepath.Join(dataDir, "logs"), broker: broker}
}

func (p *Logging) Name() string { return "logging" }

func (p *Logging) Stages() []types.Stage {
	return []types.Stage{types.StagePreCreation}
}

func (p *Logging) Dependencies() []string { return nil }

func (p *Logging) Run(ctx context.Context, stage types.Stage, hc *HookContext) error {
	data := hc.PluginData(p.Name())

	switch sink := data["sink"]; sink {
	case "", "file":
	case "null":
		hc.Stdio = ""
		return nil
	default:
		return fmt.Errorf("unknown log sink %q", sink)
	}

	path := data["path"]
	if path == "" {
		path = filepath.Join(p.dir, hc.ID+".log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	// A terminal would bypass the file.
	if hc.Spec != nil && hc.Spec.Process != nil {
		hc.Spec.Process.Terminal = false
	}
	hc.Stdio = path
	hc.Set("logging.path", path)

	if p.broker != nil {
		p.broker.Publish(&events.Event{
			Type:        events.EventLogTargetAssigned,
			ContainerID: hc.ID,
			Message:     "container output redirected",
			Metadata:    map[string]string{"path": path},
		})
	}
	return nil
}
