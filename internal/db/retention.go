package db

import (
	"context"
	"time"

	"github.com/unklstewy/vega-mount/internal/logging"
)

// Pruner deletes journal events older than maxAge. *DB implements it.
type Pruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (int64, error)
}

// RunRetention prunes once immediately and then every interval until ctx is
// done. A non-positive maxAge or interval disables pruning.
func RunRetention(ctx context.Context, p Pruner, maxAge, interval time.Duration, log logging.Logger) {
	if maxAge <= 0 || interval <= 0 {
		return
	}
	log = logging.OrNoop(log)

	prune := func() {
		pctx, cancel := context.WithTimeout(ctx, insertTimeout)
		defer cancel()
		n, err := p.Prune(pctx, maxAge)
		if err != nil {
			log.Warn(ctx, "journal prune failed", logging.Err(err))
			return
		}
		if n > 0 {
			log.Info(ctx, "journal pruned", logging.Int("events", int(n)), logging.Duration("max_age", maxAge))
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
