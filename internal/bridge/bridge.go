// Package bridge posts station telemetry to a Chain site, one sensor per
// telemetry field.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bmayton/chainpost/internal/metrics"
	"github.com/bmayton/chainpost/internal/types"
	"github.com/bmayton/chainpost/pkg/chainpost"
)

// Poster is the part of *chainpost.Poster the bridge uses.
type Poster interface {
	PostData(ctx context.Context, device, metric string, value float64, opts ...chainpost.PostOption) error
	Connected() bool
}

// Bridge serializes access to a Poster, which is not safe for concurrent use.
type Bridge struct {
	mu      sync.Mutex
	poster  Poster
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(p Poster, m *metrics.Metrics, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{poster: p, metrics: m, logger: logger}
	m.SetConnected(p.Connected())
	return b
}

// Handle posts every reading of t on the device named after the station. A
// failed reading is dropped and does not stop the others.
func (b *Bridge) Handle(ctx context.Context, t types.Telemetry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, r := range t.Readings() {
		start := time.Now()
		err := b.poster.PostData(ctx, t.StationID, r.Metric, r.Value,
			chainpost.WithUnit(r.Unit),
			chainpost.WithTimestamp(t.Timestamp),
		)
		b.metrics.ObservePost(time.Since(start))

		if err != nil {
			reason := chainpost.DropReason(err)
			b.metrics.Dropped(r.Metric, reason)
			b.logger.Debug("reading dropped",
				"station_id", t.StationID,
				"metric", r.Metric,
				"reason", reason,
			)
			errs = append(errs, fmt.Errorf("%s: %w", r.Metric, err))
			continue
		}
		b.metrics.Posted(r.Metric)
	}

	b.metrics.SetConnected(b.poster.Connected())
	return errors.Join(errs...)
}

// Connected reports whether the poster holds a site connection.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.poster.Connected()
}
