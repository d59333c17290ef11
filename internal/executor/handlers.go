package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Iron-Ham/quorum/internal/coordination"
)

// Echo returns the assignment's payload as its result.
func Echo(_ context.Context, a coordination.Assignment) (json.RawMessage, error) {
	return a.Payload, nil
}

// Sleep returns a handler that waits d before echoing the payload.
func Sleep(d time.Duration) Handler {
	return func(ctx context.Context, a coordination.Assignment) (json.RawMessage, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return a.Payload, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
