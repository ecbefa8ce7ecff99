package gateway

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"
)

// guardSampleInterval is how often the guard refreshes its CPU reading.
const guardSampleInterval = 15 * time.Second

// guard applies static admission limits to the upgrade path: a hard
// connection cap, a goroutine ceiling, a CPU emergency brake and a
// local accept throttle. Limits are configured, never auto-tuned.
type guard struct {
	maxConnections int
	maxGoroutines  int
	cpuThreshold   float64

	sem        chan struct{}
	accept     *rate.Limiter
	currentCPU atomic.Value // float64
	logger     zerolog.Logger
}

// guardConfig carries the static limits.
type guardConfig struct {
	MaxConnections int
	MaxGoroutines  int
	CPUThreshold   float64
	// AcceptRate and AcceptBurst bound the local upgrade rate; zero
	// values disable the throttle.
	AcceptRate  float64
	AcceptBurst int
}

func newGuard(cfg guardConfig, logger zerolog.Logger) *guard {
	g := &guard{
		maxConnections: cfg.MaxConnections,
		maxGoroutines:  cfg.MaxGoroutines,
		cpuThreshold:   cfg.CPUThreshold,
		sem:            make(chan struct{}, cfg.MaxConnections),
		logger:         logger.With().Str("component", "guard").Logger(),
	}
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst < 1 {
			burst = int(cfg.AcceptRate)
		}
		g.accept = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}
	g.currentCPU.Store(0.0)
	return g
}

// admit reserves a connection slot. Returns false with a reason label
// when the socket must be rejected. release must be called for every
// successful admit.
func (g *guard) admit() (ok bool, reason string) {
	if g.accept != nil && !g.accept.Allow() {
		return false, "accept_throttle"
	}
	if g.cpuThreshold > 0 {
		if cpuNow, _ := g.currentCPU.Load().(float64); cpuNow > g.cpuThreshold {
			return false, "cpu_overload"
		}
	}
	if g.maxGoroutines > 0 && runtime.NumGoroutine() > g.maxGoroutines {
		return false, "goroutine_limit"
	}
	select {
	case g.sem <- struct{}{}:
		return true, ""
	default:
		return false, "at_max_connections"
	}
}

func (g *guard) release() {
	select {
	case <-g.sem:
	default:
	}
}

func (g *guard) activeConnections() int { return len(g.sem) }

// monitor samples host CPU until ctx is cancelled.
func (g *guard) monitor(ctx context.Context) {
	ticker := time.NewTicker(guardSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(percents) == 0 {
				g.logger.Warn().Err(err).Msg("CPU sample failed")
				continue
			}
			g.currentCPU.Store(percents[0])
		case <-ctx.Done():
			return
		}
	}
}
