// Package palette maps class labels to stable display colors.
package palette

import (
	"image/color"
	"math/rand"
	"sync"

	"github.com/cyclopcam/tally/pkg/nn"
)

// Seed of the color generator. Changing this changes every color in every annotated video.
const Seed = 42

// Neutral is the color of any label that is not part of the registry's class list
var Neutral = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Registry hands out one color per class label.
// Colors are drawn from a seeded generator, walking the class list in its given order, so the
// mapping depends only on the class list, and not on which labels happen to be seen first.
// A Registry is safe for concurrent use, and may be shared between sessions.
type Registry struct {
	known  []string
	once   sync.Once
	colors map[string]color.RGBA
}

// NewRegistry creates a registry over 'known', which is usually the class list of the model.
// Population is deferred until the first lookup.
func NewRegistry(known []string) *Registry {
	return &Registry{
		known: append([]string(nil), known...),
	}
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry(nn.COCOClasses)
})

// Default returns the process-wide registry over the COCO classes
func Default() *Registry {
	return defaultRegistry()
}

func (r *Registry) populate() {
	rng := rand.New(rand.NewSource(Seed))
	r.colors = make(map[string]color.RGBA, len(r.known))
	for _, class := range r.known {
		if _, ok := r.colors[class]; ok {
			continue
		}
		r.colors[class] = color.RGBA{
			R: uint8(rng.Intn(256)),
			G: uint8(rng.Intn(256)),
			B: uint8(rng.Intn(256)),
			A: 255,
		}
	}
}

// ColorFor returns the color of 'class', or Neutral if the class is unknown
func (r *Registry) ColorFor(class string) color.RGBA {
	r.once.Do(r.populate)
	if c, ok := r.colors[class]; ok {
		return c
	}
	return Neutral
}

// Classes returns the class list that the registry was built from
func (r *Registry) Classes() []string {
	return r.known
}
