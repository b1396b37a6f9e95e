package circuit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"signet/pkg/platform/circuit"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := circuit.New("kafka-publisher")

	assert.Equal(t, "kafka-publisher", b.Name())
	assert.Equal(t, circuit.StateClosed, b.State())
	assert.False(t, b.IsOpen())
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	b := circuit.New("kafka-publisher", circuit.WithFailureThreshold(3))

	for i := 0; i < 2; i++ {
		useFallback, change := b.RecordFailure()
		assert.False(t, useFallback, "failure %d is below the threshold", i+1)
		assert.False(t, change.Opened)
	}

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())

	// Further failures keep reporting fallback without another transition.
	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.False(t, change.Opened)
}

func TestBreakerClosesAfterProbeSuccesses(t *testing.T) {
	b := circuit.New("kafka-publisher",
		circuit.WithFailureThreshold(1),
		circuit.WithSuccessThreshold(2))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary, "one probe success must not close the breaker")
	assert.False(t, change.Closed)

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestBreakerCountsConsecutiveRunsOnly(t *testing.T) {
	t.Run("a success clears accumulated failures", func(t *testing.T) {
		b := circuit.New("kafka-publisher", circuit.WithFailureThreshold(3))

		b.RecordFailure()
		b.RecordFailure()
		b.RecordSuccess()

		b.RecordFailure()
		b.RecordFailure()
		assert.False(t, b.IsOpen())

		b.RecordFailure()
		assert.True(t, b.IsOpen())
	})

	t.Run("a failure clears accumulated probe successes", func(t *testing.T) {
		b := circuit.New("kafka-publisher",
			circuit.WithFailureThreshold(1),
			circuit.WithSuccessThreshold(3))

		b.RecordFailure()
		b.RecordSuccess()
		b.RecordSuccess()
		b.RecordFailure()

		b.RecordSuccess()
		b.RecordSuccess()
		assert.True(t, b.IsOpen(), "the run restarts after the failure")
		b.RecordSuccess()
		assert.False(t, b.IsOpen())
	})
}

func TestBreakerReset(t *testing.T) {
	b := circuit.New("kafka-publisher", circuit.WithFailureThreshold(1))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, circuit.StateClosed, b.State())
	assert.False(t, b.IsOpen())
}
