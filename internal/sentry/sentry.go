package sentry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/fx"

	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/logger"
)

type Service struct {
	cfg    *config.Configuration
	logger *logger.Logger
}

// Module provides fx options for Sentry
func Module() fx.Option {
	return fx.Options(
		fx.Provide(NewSentryService),
		fx.Invoke(RegisterHooks),
	)
}

// RegisterHooks registers lifecycle hooks for Sentry
func RegisterHooks(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !svc.cfg.Sentry.Enabled {
				svc.logger.Info("Sentry is disabled")
				return nil
			}

			err := sentry.Init(sentry.ClientOptions{
				Dsn:              svc.cfg.Sentry.DSN,
				Environment:      svc.cfg.Sentry.Environment,
				EnableTracing:    true,
				TracesSampleRate: svc.cfg.Sentry.SampleRate,
				TracesSampler: sentry.TracesSampler(func(ctx sentry.SamplingContext) float64 {
					if ctx.Span.Name == "GET /health" {
						return 0.0
					}
					return svc.cfg.Sentry.SampleRate
				}),
			})
			if err != nil {
				svc.logger.Errorw("Failed to initialize Sentry", "error", err)
				return err
			}
			svc.logger.Infow("Sentry initialized successfully",
				"environment", svc.cfg.Sentry.Environment,
				"sample_rate", svc.cfg.Sentry.SampleRate,
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if svc.cfg.Sentry.Enabled {
				svc.logger.Info("Flushing Sentry events before shutdown")
				sentry.Flush(2 * time.Second)
			}
			return nil
		},
	})
}

// NewSentryService creates a new Sentry service
func NewSentryService(cfg *config.Configuration, logger *logger.Logger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger,
	}
}

// CaptureException captures an error in Sentry
func (s *Service) CaptureException(err error) {
	if !s.cfg.Sentry.Enabled {
		return
	}
	sentry.CaptureException(err)
}

// Flush waits for queued events to be sent
func (s *Service) Flush(timeout uint) bool {
	if !s.cfg.Sentry.Enabled {
		return true
	}
	return sentry.Flush(time.Duration(timeout) * time.Second)
}

// StartDBSpan starts a new database span in the current transaction
func (s *Service) StartDBSpan(ctx context.Context, operation string, params map[string]interface{}) (*sentry.Span, context.Context) {
	if !s.cfg.Sentry.Enabled {
		return nil, ctx
	}

	span := sentry.StartSpan(ctx, operation)
	if span != nil {
		span.Description = operation
		span.Op = "db.postgres"

		for k, v := range params {
			span.SetData(k, v)
		}
	}

	return span, span.Context()
}

// StartTransaction creates a new transaction or returns an existing one from context
func (s *Service) StartTransaction(ctx context.Context, name string, options ...sentry.SpanOption) (*sentry.Span, context.Context) {
	if !s.cfg.Sentry.Enabled {
		return nil, ctx
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
		ctx = sentry.SetHubOnContext(ctx, hub)
	}

	opts := append([]sentry.SpanOption{
		sentry.WithOpName(name),
		sentry.WithTransactionSource(sentry.SourceCustom),
	}, options...)

	transaction := sentry.StartTransaction(ctx, name, opts...)
	return transaction, transaction.Context()
}
