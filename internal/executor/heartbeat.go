package executor

import (
	"context"
	"time"

	"github.com/Iron-Ham/quorum/internal/logging"
)

// HeartbeatTarget receives liveness signals.
type HeartbeatTarget interface {
	Heartbeat(workerID string) error
}

// LoadTarget receives load reports, which also count as heartbeats.
type LoadTarget interface {
	ReportLoad(workerID string, load float64) error
}

// DefaultHeartbeatInterval is how often a Heartbeater beats by default.
const DefaultHeartbeatInterval = 5 * time.Second

// Heartbeater keeps a set of local workers alive in the registry. When a
// load function is set and the target accepts load reports, each beat
// carries the worker's current load.
type Heartbeater struct {
	target   HeartbeatTarget
	workers  []string
	interval time.Duration
	load     func(workerID string) float64
	logger   *logging.Logger
}

// NewHeartbeater creates a Heartbeater for workers. interval <= 0 uses
// DefaultHeartbeatInterval.
func NewHeartbeater(target HeartbeatTarget, interval time.Duration, workers ...string) *Heartbeater {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeater{
		target:   target,
		workers:  append([]string(nil), workers...),
		interval: interval,
		logger:   logging.NopLogger(),
	}
}

// WithLoad reports load from fn with every beat.
func (h *Heartbeater) WithLoad(fn func(workerID string) float64) *Heartbeater {
	h.load = fn
	return h
}

// WithLogger sets the logger.
func (h *Heartbeater) WithLogger(l *logging.Logger) *Heartbeater {
	if l != nil {
		h.logger = l
	}
	return h
}

// Beat sends one heartbeat per worker.
func (h *Heartbeater) Beat() {
	lt, reportsLoad := h.target.(LoadTarget)
	for _, id := range h.workers {
		var err error
		if reportsLoad && h.load != nil {
			err = lt.ReportLoad(id, h.load(id))
		} else {
			err = h.target.Heartbeat(id)
		}
		if err != nil {
			h.logger.WithWorker(id).Warn("heartbeat failed", "error", err)
		}
	}
}

// Run beats immediately and then every interval until ctx is done.
func (h *Heartbeater) Run(ctx context.Context) error {
	h.Beat()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Beat()
		}
	}
}
