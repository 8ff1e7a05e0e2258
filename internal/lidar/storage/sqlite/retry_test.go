package sqlite

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errLocked = errors.New("database is locked (5) (SQLITE_BUSY)")

func TestIsSQLiteBusy(t *testing.T) {
	for _, tt := range []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errLocked, true},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("UNIQUE constraint failed: experiment.experiment_id"), false},
	} {
		if got := isSQLiteBusy(tt.err); got != tt.want {
			t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// busyFor returns an operation that fails with errLocked n times.
func busyFor(n int, calls *int, at *[]time.Time) func() error {
	return func() error {
		*calls++
		if at != nil {
			*at = append(*at, time.Now())
		}
		if *calls <= n {
			return errLocked
		}
		return nil
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		var calls int
		var at []time.Time
		assert.NoError(t, retryOnBusy(busyFor(2, &calls, &at)))
		assert.Equal(t, 3, calls)

		// Waits of about 10ms then 20ms.
		first, second := at[1].Sub(at[0]), at[2].Sub(at[1])
		assert.GreaterOrEqual(t, first, 10*time.Millisecond)
		assert.GreaterOrEqual(t, second, 20*time.Millisecond)
		assert.Less(t, first, 100*time.Millisecond)
	})

	t.Run("gives up", func(t *testing.T) {
		var calls int
		err := retryOnBusy(busyFor(maxBusyRetries, &calls, nil))
		assert.Error(t, err)
		assert.True(t, errors.Is(err, errLocked))
		assert.Equal(t, maxBusyRetries, calls)
	})

	t.Run("other errors are final", func(t *testing.T) {
		calls := 0
		other := errors.New("no such table: scanline")
		err := retryOnBusy(func() error { calls++; return other })
		assert.Same(t, other, err)
		assert.Equal(t, 1, calls)
	})
}
