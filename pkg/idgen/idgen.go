package idgen

import "sync/atomic"

// Int64 returns values Start+1, Start+2, ...
// Zero and negative values are never generated, so callers can use them as sentinels.
type Int64 struct {
	next atomic.Int64
}

// NewInt64 creates a generator whose first value is start+1.
// A negative start is treated as zero.
func NewInt64(start int64) *Int64 {
	g := &Int64{}
	g.next.Store(max(start, 0))
	return g
}

func (g *Int64) Next() int64 {
	return g.next.Add(1)
}

// Skip ensures that 'used' is never handed out
func (g *Int64) Skip(used int64) {
	for {
		cur := g.next.Load()
		if used <= cur || g.next.CompareAndSwap(cur, used) {
			return
		}
	}
}
