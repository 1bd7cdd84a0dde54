package source

import (
	"context"
	"errors"
	"time"

	"marketlens/internal/types"
)

// successReading builds a successful reading stamped with fetch latency.
func successReading(name string, start time.Time, metrics map[string]float64) types.SourceReading {
	return types.SourceReading{
		SourceName: name,
		Metrics:    metrics,
		FetchedAt:  time.Now(),
		LatencyMs:  time.Since(start).Milliseconds(),
		Status:     types.ReadingSuccess,
	}
}

// failureReading encodes an adapter failure without letting the error escape
// the adapter boundary. Deadline errors become Timeout; everything else,
// including unparseable or out-of-range payloads, becomes Failed.
func failureReading(name string, start time.Time, err error) types.SourceReading {
	status := types.ReadingFailed
	if errors.Is(err, context.DeadlineExceeded) {
		status = types.ReadingTimeout
	}
	return types.SourceReading{
		SourceName: name,
		FetchedAt:  time.Now(),
		LatencyMs:  time.Since(start).Milliseconds(),
		Status:     status,
		Err:        err.Error(),
	}
}
