package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/unklstewy/vega-mount/internal/logging"
	"github.com/unklstewy/vega-mount/pkg/config"
)

// maxBackoff caps the delay between reconnection attempts.
const maxBackoff = 60 * time.Second

// ConnectWithRetry connects with exponential backoff, starting at
// initialDelay. maxRetries of 0 retries until ctx is done.
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration, log logging.Logger) (*DB, error) {
	log = logging.OrNoop(log)
	delay := initialDelay
	attempt := 0

	for {
		attempt++
		db, err := Connect(ctx, cfg)
		if err == nil {
			if attempt > 1 {
				log.Info(ctx, "database connected", logging.Int("attempt", attempt))
			}
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			log.Error(ctx, "database connection failed", logging.Int("attempts", attempt), logging.Err(err))
			return nil, err
		}

		log.Warn(ctx, "database connection failed, retrying",
			logging.Int("attempt", attempt),
			logging.Duration("retry_in", delay),
			logging.Err(err),
		)
		if !sleep(ctx, delay) {
			return nil, ctx.Err()
		}
		delay = nextBackoff(delay)
	}
}

// HealthCheck reports whether the database answers a trivial query.
func HealthCheck(ctx context.Context, db *DB) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return false
	}
	return result == 1
}

// WithRetry runs operation, retrying up to maxRetries times when the error
// looks like a lost connection. The wait grows linearly from delay.
func WithRetry(ctx context.Context, maxRetries int, delay time.Duration, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConnError(err) {
			return err
		}
		if attempt < maxRetries && !sleep(ctx, time.Duration(attempt+1)*delay) {
			return lastErr
		}
	}
	return lastErr
}

var connErrorPatterns = []string{
	"connection refused",
	"broken pipe",
	"no connection",
	"connection reset",
	"eof",
	"timeout",
	"bad connection",
}

// isConnError reports whether err is a transient connectivity failure.
func isConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range connErrorPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
