package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/pathakanu/pillLens/internal/model"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GuardConfig limits one channel's send rate and trips a breaker after repeated failures.
type GuardConfig struct {
	PerMinute           int
	Burst               int
	ConsecutiveFailures uint32
	OpenFor             time.Duration
}

// DefaultGuardConfig returns conservative limits for a messaging provider.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{PerMinute: 30, Burst: 5, ConsecutiveFailures: 5, OpenFor: time.Minute}
}

type guardedSender struct {
	Sender
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// Guard wraps s with a token-bucket limiter and a circuit breaker. While the breaker is open
// sends fail fast with gobreaker.ErrOpenState.
func Guard(s Sender, cfg GuardConfig, logger *zap.Logger) Sender {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = DefaultGuardConfig().PerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultGuardConfig().ConsecutiveFailures
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = DefaultGuardConfig().OpenFor
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        s.Channel(),
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notify: circuit breaker state changed",
				zap.String("channel", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &guardedSender{
		Sender:  s,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.PerMinute)/60.0), cfg.Burst),
		breaker: breaker,
	}
}

func (g *guardedSender) Send(ctx context.Context, profile model.UserProfile, alert Alert) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", g.Channel(), err)
	}
	_, err := g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, g.Sender.Send(ctx, profile, alert)
	})
	return err
}
