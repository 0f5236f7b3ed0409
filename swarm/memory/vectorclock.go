package memory

// Ordering is the causal relationship between two vector clocks.
type Ordering int

const (
	OrderingEqual Ordering = iota
	OrderingBefore
	OrderingAfter
	OrderingConcurrent
)

// VectorClock maps node identifiers to monotonically increasing counters.
// It tracks causal ordering of operations, not per-value versioning.
type VectorClock map[string]uint64

// NewVectorClock returns an empty clock.
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Tick increments the counter for the given node and returns the new value.
func (vc VectorClock) Tick(node string) uint64 {
	vc[node]++
	return vc[node]
}

// Merge folds another clock into this one, taking the per-node maximum.
// No existing counter ever decreases.
func (vc VectorClock) Merge(other VectorClock) {
	for node, count := range other {
		if count > vc[node] {
			vc[node] = count
		}
	}
}

// Compare returns the causal ordering of vc relative to other.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	less, greater := false, false
	for node, count := range vc {
		if count > other[node] {
			greater = true
		}
	}
	for node, count := range other {
		if count > vc[node] {
			less = true
		}
	}
	switch {
	case less && greater:
		return OrderingConcurrent
	case less:
		return OrderingBefore
	case greater:
		return OrderingAfter
	default:
		return OrderingEqual
	}
}

// Clone returns a deep copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	cp := make(VectorClock, len(vc))
	for node, count := range vc {
		cp[node] = count
	}
	return cp
}
