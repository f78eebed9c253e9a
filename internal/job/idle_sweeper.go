package job

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-chat-api/internal/metrics"
)

// Evictor drops idle connections and returns the affected user ids.
// Implemented by the websocket hub.
type Evictor interface {
	EvictIdle(threshold time.Duration) []uuid.UUID
}

// IdleSweeper periodically disconnects clients with no recent activity so
// the presence list converges to reality.
type IdleSweeper struct {
	evictor   Evictor
	threshold time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewIdleSweeper creates a new IdleSweeper instance
func NewIdleSweeper(evictor Evictor, threshold time.Duration, m *metrics.Metrics, logger *zap.Logger) *IdleSweeper {
	return &IdleSweeper{
		evictor:   evictor,
		threshold: threshold,
		metrics:   m,
		logger:    logger,
	}
}

// Run executes one sweep over the presence registry
func (j *IdleSweeper) Run() {
	started := time.Now()

	evicted := j.evictor.EvictIdle(j.threshold)
	if len(evicted) == 0 {
		j.logger.Debug("Idle sweep found no stale connections")
		return
	}

	if j.metrics != nil {
		j.metrics.IdleEvictionsTotal.Add(float64(len(evicted)))
	}

	ids := make([]string, len(evicted))
	for i, id := range evicted {
		ids[i] = id.String()
	}
	j.logger.Info("Idle sweep completed",
		zap.Int("evicted", len(evicted)),
		zap.Strings("user_ids", ids),
		zap.Duration("took", time.Since(started)),
	)
}
