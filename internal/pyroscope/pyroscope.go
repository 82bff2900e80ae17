package pyroscope

import (
	"context"
	"strings"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"

	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/logger"
	"github.com/tokenrail/tokenrail/internal/types"
)

// Service owns the continuous-profiling agent. The profiler streams to the
// configured Pyroscope server for as long as the process runs; there is no
// explicit stop call in the client.
type Service struct {
	cfg      *config.Configuration
	logger   *logger.Logger
	profiler *pyroscope.Profiler
}

func NewService(cfg *config.Configuration, logger *logger.Logger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger,
	}
}

// Module provides fx options for Pyroscope
func Module() fx.Option {
	return fx.Options(
		fx.Provide(NewService),
		fx.Invoke(RegisterHooks),
	)
}

// RegisterHooks starts the profiler on application start when enabled.
func RegisterHooks(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !svc.cfg.Pyroscope.Enabled {
				svc.logger.Info("profiling is disabled")
				return nil
			}

			pyroscopeConfig := pyroscope.Config{
				ApplicationName: svc.cfg.Pyroscope.ApplicationName,
				ServerAddress:   svc.cfg.Pyroscope.ServerAddress,
				ProfileTypes:    svc.profileTypes(),
				SampleRate:      uint32(svc.cfg.Pyroscope.SampleRate),
				DisableGCRuns:   svc.cfg.Pyroscope.DisableGCRuns,
				Logger:          svc,
			}
			if svc.cfg.Pyroscope.BasicAuthUser != "" {
				pyroscopeConfig.BasicAuthUser = svc.cfg.Pyroscope.BasicAuthUser
				pyroscopeConfig.BasicAuthPassword = svc.cfg.Pyroscope.BasicAuthPass
			}

			profiler, err := pyroscope.Start(pyroscopeConfig)
			if err != nil {
				svc.logger.Errorw("failed to start profiler", "error", err)
				return err
			}
			svc.profiler = profiler

			svc.logger.Infow("profiling started",
				"application_name", svc.cfg.Pyroscope.ApplicationName,
				"server_address", svc.cfg.Pyroscope.ServerAddress,
				"sample_rate", svc.cfg.Pyroscope.SampleRate,
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// the agent stops with the process
			return nil
		},
	})
}

// Debugf, Infof and Errorf satisfy the pyroscope.Logger interface so agent
// output lands in our structured log.
func (s *Service) Debugf(format string, args ...interface{}) {
	if s.cfg.Logging.Level == types.LogLevelDebug {
		s.logger.Debugf("[pyroscope] "+format, args...)
	}
}

func (s *Service) Infof(format string, args ...interface{}) {
	s.logger.Infof("[pyroscope] "+format, args...)
}

func (s *Service) Errorf(format string, args ...interface{}) {
	s.logger.Errorf("[pyroscope] "+format, args...)
}

func (s *Service) profileTypes() []pyroscope.ProfileType {
	if len(s.cfg.Pyroscope.ProfileTypes) == 0 {
		return []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileGoroutines,
		}
	}

	var types []pyroscope.ProfileType
	for _, profileType := range s.cfg.Pyroscope.ProfileTypes {
		switch strings.ToLower(profileType) {
		case "cpu":
			types = append(types, pyroscope.ProfileCPU)
		case "inuse_objects":
			types = append(types, pyroscope.ProfileInuseObjects)
		case "alloc_objects":
			types = append(types, pyroscope.ProfileAllocObjects)
		case "inuse_space":
			types = append(types, pyroscope.ProfileInuseSpace)
		case "alloc_space":
			types = append(types, pyroscope.ProfileAllocSpace)
		case "goroutines":
			types = append(types, pyroscope.ProfileGoroutines)
		case "mutex_count":
			types = append(types, pyroscope.ProfileMutexCount)
		case "mutex_duration":
			types = append(types, pyroscope.ProfileMutexDuration)
		case "block_count":
			types = append(types, pyroscope.ProfileBlockCount)
		case "block_duration":
			types = append(types, pyroscope.ProfileBlockDuration)
		default:
			s.logger.Warnw("unknown profile type", "type", profileType)
		}
	}
	return types
}
