package palette

import (
	"image/color"
	"sync"
	"testing"

	"github.com/cyclopcam/tally/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestDeterministic(t *testing.T) {
	a := NewRegistry(nn.COCOClasses)
	b := NewRegistry(nn.COCOClasses)
	// Look up in a different order on each registry
	for i := range nn.COCOClasses {
		a.ColorFor(nn.COCOClasses[i])
		b.ColorFor(nn.COCOClasses[len(nn.COCOClasses)-1-i])
	}
	for _, c := range nn.COCOClasses {
		require.Equal(t, a.ColorFor(c), b.ColorFor(c), "class %v", c)
		require.Equal(t, uint8(255), a.ColorFor(c).A)
	}
}

func TestUnknownIsNeutral(t *testing.T) {
	r := NewRegistry([]string{"bird", "cat"})
	require.Equal(t, Neutral, r.ColorFor("unicorn"))
	require.Equal(t, Neutral, r.ColorFor(""))
	require.NotEqual(t, r.ColorFor("bird"), r.ColorFor("cat"))
}

func TestDuplicatesIgnored(t *testing.T) {
	a := NewRegistry([]string{"bird", "cat"})
	b := NewRegistry([]string{"bird", "bird", "cat"})
	require.Equal(t, a.ColorFor("bird"), b.ColorFor("bird"))
	require.Equal(t, a.ColorFor("cat"), b.ColorFor("cat"))
}

func TestConcurrentPopulation(t *testing.T) {
	ref := NewRegistry(nn.COCOClasses).ColorFor("bird")
	r := NewRegistry(nn.COCOClasses)
	got := make([]color.RGBA, 8)
	var wg sync.WaitGroup
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = r.ColorFor("bird")
		}()
	}
	wg.Wait()
	for _, c := range got {
		require.Equal(t, ref, c)
	}
	require.Same(t, Default(), Default())
}
