package estimator

import (
	"golang.org/x/exp/slices"
)

// reorderBuffer holds up to a fixed number of measurements sorted by timestamp.
// Samples with equal timestamps keep their arrival order.
type reorderBuffer struct {
	window int
	items  []Measurement
}

func newReorderBuffer(window int) *reorderBuffer {
	return &reorderBuffer{
		window: window,
		items:  make([]Measurement, 0, window+1),
	}
}

func (b *reorderBuffer) Len() int { return len(b.items) }

// Full reports whether the buffer holds more than its window
func (b *reorderBuffer) Full() bool { return len(b.items) > b.window }

func (b *reorderBuffer) Push(m Measurement) {
	t := m.Time()
	i := slices.IndexFunc(b.items, func(o Measurement) bool { return o.Time() > t })
	if i < 0 {
		i = len(b.items)
	}
	b.items = slices.Insert(b.items, i, m)
}

// Pop removes and returns the oldest measurement
func (b *reorderBuffer) Pop() (m Measurement, ok bool) {
	if len(b.items) == 0 {
		return nil, false
	}
	m = b.items[0]
	copy(b.items, b.items[1:])
	b.items[len(b.items)-1] = nil
	b.items = b.items[:len(b.items)-1]
	return m, true
}

func (b *reorderBuffer) Reset() {
	for i := range b.items {
		b.items[i] = nil
	}
	b.items = b.items[:0]
}
