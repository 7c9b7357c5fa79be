package api

import (
	"context"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Lifecycle is the part of the lifecycle manager exposed to IPC clients
type Lifecycle interface {
	CreateAndStart(ctx context.Context, id, bundle string, cfg *types.ContainerConfig) error
	Stop(ctx context.Context, id string, withPrejudice bool) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	StateOf(id string) (types.State, error)
	StatsOf(ctx context.Context, id string) (*types.Stats, error)
	List() []*types.Container
	Subscribe() events.Subscriber
	Unsubscribe(sub events.Subscriber)
}

// Service is the facade an IPC layer binds to. Every call is delegated to
// the lifecycle manager; errors keep their kinds so transports can map them
// with errors.Is.
type Service struct {
	lc     Lifecycle
	logger zerolog.Logger
}

// NewService creates a facade over lc
func NewService(lc Lifecycle) *Service {
	return &Service{
		lc:     lc,
		logger: log.WithComponent("api"),
	}
}

// StartContainerFromBundle creates container id from the OCI bundle at
// bundle and starts it. cfg may be nil to use the bundle's burrow.yaml.
func (s *Service) StartContainerFromBundle(ctx context.Context, id, bundle string, cfg *types.ContainerConfig) error {
	s.logger.Debug().Str("container_id", id).Str("bundle", bundle).Msg("Start requested")
	return s.lc.CreateAndStart(ctx, id, bundle, cfg)
}

// StopContainer stops container id, gracefully unless withPrejudice is set
func (s *Service) StopContainer(ctx context.Context, id string, withPrejudice bool) error {
	s.logger.Debug().Str("container_id", id).Bool("prejudice", withPrejudice).Msg("Stop requested")
	return s.lc.Stop(ctx, id, withPrejudice)
}

func (s *Service) PauseContainer(ctx context.Context, id string) error {
	return s.lc.Pause(ctx, id)
}

func (s *Service) ResumeContainer(ctx context.Context, id string) error {
	return s.lc.Resume(ctx, id)
}

func (s *Service) RestartContainer(ctx context.Context, id string) error {
	s.logger.Debug().Str("container_id", id).Msg("Restart requested")
	return s.lc.Restart(ctx, id)
}

// RemoveContainer forgets a Stopped or Failed container
func (s *Service) RemoveContainer(ctx context.Context, id string) error {
	return s.lc.Remove(ctx, id)
}

func (s *Service) StateOfContainer(id string) (types.State, error) {
	return s.lc.StateOf(id)
}

func (s *Service) StatsOfContainer(ctx context.Context, id string) (*types.Stats, error) {
	return s.lc.StatsOf(ctx, id)
}

// ListContainers returns a snapshot of every registered container
func (s *Service) ListContainers() []*types.Container {
	return s.lc.List()
}

// StateChanges streams committed state transitions in commit order until
// ctx is done. The channel is closed when the stream ends.
func (s *Service) StateChanges(ctx context.Context) <-chan types.StateChangeEvent {
	sub := s.lc.Subscribe()
	out := make(chan types.StateChangeEvent, cap(sub))

	go func() {
		defer close(out)
		defer s.lc.Unsubscribe(sub)

		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if ev.Type != events.EventStateChanged || ev.Change == nil {
					continue
				}
				select {
				case out <- *ev.Change:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
