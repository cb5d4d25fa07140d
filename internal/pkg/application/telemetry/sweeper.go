package telemetry

import (
	"context"
	"time"

	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Sweeper runs rule evaluations. Calls that overlap an evaluation already in progress
// wait for it and share its result instead of starting another one.
type Sweeper interface {
	Sweep(ctx context.Context) ([]database.Alert, error)
	Start()
	Stop()
}

type sweeper struct {
	engine   RuleEngine
	group    singleflight.Group
	interval time.Duration
	log      zerolog.Logger
	done     chan bool
}

func NewSweeper(engine RuleEngine, interval time.Duration, log zerolog.Logger) Sweeper {
	return &sweeper{
		engine:   engine,
		interval: interval,
		log:      log,
		done:     make(chan bool),
	}
}

func (s *sweeper) Sweep(ctx context.Context) ([]database.Alert, error) {
	var err error

	ctx, span := tracer.Start(ctx, "rule-sweep")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	v, err, shared := s.group.Do("sweep", func() (any, error) {
		// callers that join this sweep must not be affected if the first caller goes away
		sweepCtx := logging.NewContextWithLogger(context.Background(), logging.GetFromContext(ctx))
		sweepCtx = trace.ContextWithSpan(sweepCtx, span)
		return s.engine.Evaluate(sweepCtx)
	})
	if err != nil {
		return nil, err
	}

	alerts := v.([]database.Alert)

	if !shared {
		logFindings(logging.GetFromContext(ctx), alerts)
	}

	return alerts, nil
}

// Start runs a sweep every interval until Stop is called. A zero interval disables
// the periodic sweep.
func (s *sweeper) Start() {
	if s.interval <= 0 {
		s.log.Info().Msg("periodic rule sweep disabled")
		return
	}

	go s.backgroundWorker()
}

func (s *sweeper) Stop() {
	if s.interval <= 0 {
		return
	}

	s.done <- true
}

func (s *sweeper) backgroundWorker() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Msgf("sweeping devices every %s", s.interval)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx := logging.NewContextWithLogger(context.Background(), s.log)
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("periodic rule sweep failed")
			}
		}
	}
}
