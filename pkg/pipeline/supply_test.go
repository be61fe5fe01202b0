// ABOUTME: Tests for the supply retry helper
// ABOUTME: Covers retry on pool exhaustion, permanent errors and cancellation
package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

func TestRetryOnExhaustion(t *testing.T) {
	errBroken := errors.New("broken")

	tests := []struct {
		name      string
		failures  int
		final     error
		cancel    bool
		want      error
		wantCalls int
	}{
		{"succeeds first time", 0, nil, false, nil, 1},
		{"retries until pool refills", 3, nil, false, nil, 4},
		{"other errors are not retried", 0, errBroken, false, errBroken, 1},
		{"exhaustion then other error", 2, errBroken, false, errBroken, 3},
		{"cancelled while exhausted", -1, nil, true, context.Canceled, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}

			calls := 0
			err := RetryOnExhaustion(ctx, time.Millisecond, func() error {
				calls++
				if tt.failures < 0 || calls <= tt.failures {
					return msg.ErrPoolExhausted
				}
				return tt.final
			})

			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}
