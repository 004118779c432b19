package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

// RetryPolicy controls how often a capability is retried after a failure.
type RetryPolicy struct {
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // initial backoff
	MaxDelay   time.Duration // backoff cap
}

type ResilientConfig struct {
	Timeout    time.Duration
	Crisis     RetryPolicy
	Reply      RetryPolicy
	Distortion RetryPolicy
}

// DefaultResilientConfig retries the safety check once and the reply once.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout:    20 * time.Second,
		Crisis:     RetryPolicy{MaxRetries: 1, BaseDelay: 300 * time.Millisecond, MaxDelay: 2 * time.Second},
		Reply:      RetryPolicy{MaxRetries: 1, BaseDelay: 300 * time.Millisecond, MaxDelay: 2 * time.Second},
		Distortion: RetryPolicy{},
	}
}

// Resilient wraps a LanguageService with per-call timeouts, retries, typed errors and metrics.
type Resilient struct {
	next    domain.LanguageService
	cfg     ResilientConfig
	metrics *observability.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewResilient(next domain.LanguageService, cfg ResilientConfig, metrics *observability.Metrics) *Resilient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultResilientConfig().Timeout
	}
	return &Resilient{
		next:    next,
		cfg:     cfg,
		metrics: metrics,
		sleep:   sleepCtx,
	}
}

func (r *Resilient) PersonaReply(ctx context.Context, in domain.PersonaInput) (domain.PersonaOutput, error) {
	return call(ctx, r, domain.CapabilityPersonaReply, r.cfg.Reply, func(ctx context.Context) (domain.PersonaOutput, error) {
		out, err := r.next.PersonaReply(ctx, in)
		if err == nil {
			err = validated(domain.CapabilityPersonaReply, out.Validate())
		}
		return out, err
	})
}

func (r *Resilient) AnalyzeDistortion(ctx context.Context, in domain.DistortionInput) (domain.DistortionOutput, error) {
	return call(ctx, r, domain.CapabilityDistortion, r.cfg.Distortion, func(ctx context.Context) (domain.DistortionOutput, error) {
		out, err := r.next.AnalyzeDistortion(ctx, in)
		if err == nil {
			err = validated(domain.CapabilityDistortion, out.Validate())
		}
		return out, err
	})
}

func (r *Resilient) AnalyzeCrisis(ctx context.Context, in domain.CrisisInput) (domain.CrisisOutput, error) {
	return call(ctx, r, domain.CapabilityCrisis, r.cfg.Crisis, func(ctx context.Context) (domain.CrisisOutput, error) {
		out, err := r.next.AnalyzeCrisis(ctx, in)
		if err == nil {
			err = validated(domain.CapabilityCrisis, out.Validate())
		}
		return out, err
	})
}

func call[T any](
	ctx context.Context,
	r *Resilient,
	capability domain.Capability,
	policy RetryPolicy,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	log := observability.LoggerFromContext(ctx).With("capability", capability)

	var (
		out T
		err error
	)
	for attempt := 0; ; attempt++ {
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		out, err = fn(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			r.metrics.LanguageCall(string(capability), "ok", time.Since(start))
			return out, nil
		}

		err = typed(capability, err, timedOut)
		kind, _ := domain.AdapterErrorKindOf(err)
		r.metrics.LanguageCall(string(capability), string(kind), time.Since(start))

		if ctx.Err() != nil || attempt >= policy.MaxRetries || !IsRetryableError(err) {
			break
		}

		delay := CalculateBackoff(policy.BaseDelay, attempt, policy.MaxDelay)
		log.Warn("language call failed, retrying", "attempt", attempt+1, "delay_ms", delay.Milliseconds(), "error", err)
		if serr := r.sleep(ctx, delay); serr != nil {
			break
		}
	}

	var zero T
	return zero, err
}

func validated(capability domain.Capability, err error) error {
	if err == nil {
		return nil
	}
	return invalidOutput(capability, err)
}

// typed makes sure every failure leaving the adapter is an *AdapterError.
func typed(capability domain.Capability, err error, timedOut bool) error {
	var ae *domain.AdapterError
	if errors.As(err, &ae) {
		if timedOut && ae.Kind != domain.AdapterTimeout {
			return &domain.AdapterError{Capability: capability, Kind: domain.AdapterTimeout, Err: err}
		}
		return err
	}
	kind := domain.AdapterUpstream
	if timedOut || errors.Is(err, context.DeadlineExceeded) {
		kind = domain.AdapterTimeout
	}
	return &domain.AdapterError{Capability: capability, Kind: kind, Err: err}
}

// IsRetryableError reports whether another attempt could succeed.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrInvalidInput) {
		return false
	}

	kind, ok := domain.AdapterErrorKindOf(err)
	if ok && (kind == domain.AdapterTimeout || kind == domain.AdapterInvalidOutput) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	switch apiStatusCode(err) {
	case 0:
		return ok
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// CalculateBackoff returns base*2^attempt plus up to 25% jitter, capped at max.
func CalculateBackoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 16 {
		attempt = 16
	}
	d := base << attempt
	if max > 0 && d > max {
		d = max
	}
	jitter := time.Duration(rand.Int64N(int64(d)/4 + 1))
	d += jitter
	if max > 0 && d > max {
		d = max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
