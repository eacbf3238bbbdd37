package framebridge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/frame-bridge/internal/engine"
)

// stopAndConfirm drives the engine to the stopped state and polls until the
// engine confirms it. The engine's streaming thread may still be inside an
// allocator callback right after Stop returns, so surfaces must not be released
// before this confirms.
//
// Back-off schedule (defaults): 1ms, 2ms, 4ms, ... capped at 50ms, 50 polls.
//
// Returns an error wrapping ErrStopTimeout when the bound is exceeded.
func stopAndConfirm(eng engine.Engine, cfg StopConfig) error {
	for attempt := 1; attempt <= cfg.MaxPolls; attempt++ {
		if err := eng.Stop(); err != nil {
			slog.Warn("framebridge: engine stop request failed", "error", err, "attempt", attempt)
		}

		state, err := eng.State()
		if err == nil && state == engine.StateStopped {
			if attempt > 1 {
				slog.Debug("framebridge: engine stop confirmed", "polls", attempt)
			}
			return nil
		}

		if attempt < cfg.MaxPolls {
			time.Sleep(stopBackoff(attempt, cfg))
		}
	}

	return fmt.Errorf("%w after %d polls", ErrStopTimeout, cfg.MaxPolls)
}

// stopBackoff returns PollInterval * 2^(attempt-1), capped at MaxPollInterval.
func stopBackoff(attempt int, cfg StopConfig) time.Duration {
	if attempt > 20 {
		return cfg.MaxPollInterval
	}
	delay := cfg.PollInterval * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxPollInterval {
		delay = cfg.MaxPollInterval
	}
	return delay
}
