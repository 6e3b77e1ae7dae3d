package perfstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccumulatorOrderIndependent(t *testing.T) {
	samples := []float64{100, 250, 0, 75, 1000}
	a := Accumulator{}
	b := Accumulator{}
	for i := range samples {
		a.AddSample(samples[i])
		b.AddSample(samples[len(samples)-1-i])
	}
	require.Equal(t, int64(5), a.Samples)
	require.InDelta(t, 285.0, a.Average(), 1e-9)
	require.InDelta(t, a.Average(), b.Average(), 1e-9)

	a.Reset()
	require.Equal(t, 0.0, a.Average())
}

func TestTimeAccumulator(t *testing.T) {
	a := TimeAccumulator{}
	require.Equal(t, time.Duration(0), a.Average())
	a.AddSample(10 * time.Millisecond)
	a.AddSample(30 * time.Millisecond)
	require.Equal(t, 20*time.Millisecond, a.Average())
}

func TestMovingAverage(t *testing.T) {
	m := MovingAverage{}
	m.Update(6400)
	require.Equal(t, int64(6400), m.Load())
	m.Update(0)
	require.Equal(t, int64(6300), m.Load())
}
