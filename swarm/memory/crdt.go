package memory

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"github.com/BaSui01/swarmflow/types"
)

// CRDTType identifies one of the supported replicated data type variants.
type CRDTType string

const (
	CRDTTypeGCounter    CRDTType = "g_counter"
	CRDTTypePNCounter   CRDTType = "pn_counter"
	CRDTTypeGSet        CRDTType = "g_set"
	CRDTTypeTwoPhaseSet CRDTType = "2p_set"
	CRDTTypeLWWRegister CRDTType = "lww_register"
	CRDTTypeORSet       CRDTType = "or_set"
)

// CRDT is the contract shared by all variants. Merge must be commutative,
// associative and idempotent; merging entries of different variants is a
// type mismatch error.
type CRDT interface {
	// Type returns the variant tag.
	Type() CRDTType
	// Value returns the externally visible value.
	Value() any
	// Merge folds another replica's state of the same variant into this one.
	Merge(other CRDT) error
	// Snapshot returns a serializable form for transport.
	Snapshot() (*CRDTSnapshot, error)
}

// CRDTSnapshot is the wire form of a CRDT entry.
type CRDTSnapshot struct {
	Type CRDTType        `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewCRDT constructs an empty CRDT of the given variant.
func NewCRDT(t CRDTType) (CRDT, error) {
	switch t {
	case CRDTTypeGCounter:
		return NewGCounter(), nil
	case CRDTTypePNCounter:
		return NewPNCounter(), nil
	case CRDTTypeGSet:
		return NewGSet(), nil
	case CRDTTypeTwoPhaseSet:
		return NewTwoPhaseSet(), nil
	case CRDTTypeLWWRegister:
		return NewLWWRegister(), nil
	case CRDTTypeORSet:
		return NewORSet(), nil
	default:
		return nil, types.NewErrorf(types.ErrTypeMismatch, "unknown CRDT type %q", t)
	}
}

// FromSnapshot materializes a CRDT from its wire form.
func FromSnapshot(s *CRDTSnapshot) (CRDT, error) {
	c, err := NewCRDT(s.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(s.Data, c); err != nil {
		return nil, types.NewErrorf(types.ErrTypeMismatch, "decode %s snapshot", s.Type).WithCause(err)
	}
	return c, nil
}

func snapshot(t CRDTType, c CRDT) (*CRDTSnapshot, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return &CRDTSnapshot{Type: t, Data: data}, nil
}

func mismatch(want, got CRDTType) error {
	return types.NewErrorf(types.ErrTypeMismatch, "cannot merge %s into %s", got, want)
}

// --- Grow-only counter ---

// GCounter is a grow-only counter: per-node increment-only counts whose
// value is the sum across nodes.
type GCounter struct {
	Counts map[string]uint64 `json:"counts"`
}

// NewGCounter returns an empty grow-only counter.
func NewGCounter() *GCounter {
	return &GCounter{Counts: make(map[string]uint64)}
}

// Type implements CRDT.
func (g *GCounter) Type() CRDTType { return CRDTTypeGCounter }

// Increment adds delta to this node's count.
func (g *GCounter) Increment(node string, delta uint64) {
	g.Counts[node] += delta
}

// Value returns the sum across all nodes as int64.
func (g *GCounter) Value() any {
	var sum int64
	for _, c := range g.Counts {
		sum += int64(c)
	}
	return sum
}

// Merge takes the per-node maximum.
func (g *GCounter) Merge(other CRDT) error {
	o, ok := other.(*GCounter)
	if !ok {
		return mismatch(g.Type(), other.Type())
	}
	for node, count := range o.Counts {
		if count > g.Counts[node] {
			g.Counts[node] = count
		}
	}
	return nil
}

// Snapshot implements CRDT.
func (g *GCounter) Snapshot() (*CRDTSnapshot, error) { return snapshot(g.Type(), g) }

// --- Positive-negative counter ---

// PNCounter is a pair of grow-only counters; value = increments - decrements.
type PNCounter struct {
	Increments *GCounter `json:"increments"`
	Decrements *GCounter `json:"decrements"`
}

// NewPNCounter returns an empty positive-negative counter.
func NewPNCounter() *PNCounter {
	return &PNCounter{Increments: NewGCounter(), Decrements: NewGCounter()}
}

// Type implements CRDT.
func (p *PNCounter) Type() CRDTType { return CRDTTypePNCounter }

// Increment applies a signed delta on behalf of the given node.
func (p *PNCounter) Increment(node string, delta int64) {
	if delta >= 0 {
		p.Increments.Increment(node, uint64(delta))
	} else {
		p.Decrements.Increment(node, uint64(-delta))
	}
}

// Value returns increments minus decrements.
func (p *PNCounter) Value() any {
	return p.Increments.Value().(int64) - p.Decrements.Value().(int64)
}

// Merge merges both underlying counters.
func (p *PNCounter) Merge(other CRDT) error {
	o, ok := other.(*PNCounter)
	if !ok {
		return mismatch(p.Type(), other.Type())
	}
	if err := p.Increments.Merge(o.Increments); err != nil {
		return err
	}
	return p.Decrements.Merge(o.Decrements)
}

// Snapshot implements CRDT.
func (p *PNCounter) Snapshot() (*CRDTSnapshot, error) { return snapshot(p.Type(), p) }

// --- Grow-only set ---

// GSet is a union-only membership set.
type GSet struct {
	Elements map[string]bool `json:"elements"`
}

// NewGSet returns an empty grow-only set.
func NewGSet() *GSet {
	return &GSet{Elements: make(map[string]bool)}
}

// Type implements CRDT.
func (g *GSet) Type() CRDTType { return CRDTTypeGSet }

// Add inserts an element. Elements can never be removed.
func (g *GSet) Add(element string) {
	g.Elements[element] = true
}

// Contains reports membership.
func (g *GSet) Contains(element string) bool {
	return g.Elements[element]
}

// Value returns the sorted element list.
func (g *GSet) Value() any {
	return sortedKeys(g.Elements)
}

// Merge takes the set union.
func (g *GSet) Merge(other CRDT) error {
	o, ok := other.(*GSet)
	if !ok {
		return mismatch(g.Type(), other.Type())
	}
	for e := range o.Elements {
		g.Elements[e] = true
	}
	return nil
}

// Snapshot implements CRDT.
func (g *GSet) Snapshot() (*CRDTSnapshot, error) { return snapshot(g.Type(), g) }

// --- Two-phase set ---

// TwoPhaseSet combines an added grow-only set with a removed grow-only set.
// Membership is added minus removed. Once removed, an element can never be
// re-added; this permanent-removal semantic is a property of the variant.
// Call sites that need re-adds use the observed-remove set instead.
type TwoPhaseSet struct {
	Added   *GSet `json:"added"`
	Removed *GSet `json:"removed"`
}

// NewTwoPhaseSet returns an empty two-phase set.
func NewTwoPhaseSet() *TwoPhaseSet {
	return &TwoPhaseSet{Added: NewGSet(), Removed: NewGSet()}
}

// Type implements CRDT.
func (t *TwoPhaseSet) Type() CRDTType { return CRDTTypeTwoPhaseSet }

// Add inserts an element into the added set. It has no visible effect if the
// element was ever removed.
func (t *TwoPhaseSet) Add(element string) {
	t.Added.Add(element)
}

// Remove tombstones an element permanently.
func (t *TwoPhaseSet) Remove(element string) {
	t.Removed.Add(element)
}

// Contains reports membership: added and never removed.
func (t *TwoPhaseSet) Contains(element string) bool {
	return t.Added.Contains(element) && !t.Removed.Contains(element)
}

// Value returns the sorted live element list.
func (t *TwoPhaseSet) Value() any {
	live := make([]string, 0, len(t.Added.Elements))
	for e := range t.Added.Elements {
		if !t.Removed.Contains(e) {
			live = append(live, e)
		}
	}
	sort.Strings(live)
	return live
}

// Merge unions both underlying sets.
func (t *TwoPhaseSet) Merge(other CRDT) error {
	o, ok := other.(*TwoPhaseSet)
	if !ok {
		return mismatch(t.Type(), other.Type())
	}
	if err := t.Added.Merge(o.Added); err != nil {
		return err
	}
	return t.Removed.Merge(o.Removed)
}

// Snapshot implements CRDT.
func (t *TwoPhaseSet) Snapshot() (*CRDTSnapshot, error) { return snapshot(t.Type(), t) }

// --- Last-write-wins register ---

// LWWRegister holds a single value with a timestamp. A set only applies if
// the new timestamp is strictly greater; merge keeps the higher-timestamp
// side. Equal timestamps tie-break on node id so replicas converge.
type LWWRegister struct {
	Val       any    `json:"value"`
	Timestamp int64  `json:"timestamp"`
	Node      string `json:"node"`
}

// NewLWWRegister returns an empty register.
func NewLWWRegister() *LWWRegister {
	return &LWWRegister{}
}

// Type implements CRDT.
func (l *LWWRegister) Type() CRDTType { return CRDTTypeLWWRegister }

// Set applies the value if ts is strictly newer (or equal with a greater
// node id). Returns whether the write took effect.
func (l *LWWRegister) Set(value any, ts int64, node string) bool {
	if ts > l.Timestamp || (ts == l.Timestamp && node > l.Node) {
		l.Val = value
		l.Timestamp = ts
		l.Node = node
		return true
	}
	return false
}

// Value returns the current value.
func (l *LWWRegister) Value() any { return l.Val }

// Merge keeps the higher-timestamp side.
func (l *LWWRegister) Merge(other CRDT) error {
	o, ok := other.(*LWWRegister)
	if !ok {
		return mismatch(l.Type(), other.Type())
	}
	l.Set(o.Val, o.Timestamp, o.Node)
	return nil
}

// Snapshot implements CRDT.
func (l *LWWRegister) Snapshot() (*CRDTSnapshot, error) { return snapshot(l.Type(), l) }

// --- Observed-remove set ---

// ORSet associates each add with a globally unique tag. Remove clears all
// known tags for the element; an element is present iff it has at least one
// live tag. Unlike the two-phase set, a removed element can be re-added.
type ORSet struct {
	Tags map[string]map[string]bool `json:"tags"`
}

// NewORSet returns an empty observed-remove set.
func NewORSet() *ORSet {
	return &ORSet{Tags: make(map[string]map[string]bool)}
}

// Type implements CRDT.
func (o *ORSet) Type() CRDTType { return CRDTTypeORSet }

// Add inserts an element under a fresh unique tag and returns the tag.
func (o *ORSet) Add(element string) string {
	tag := uuid.NewString()
	if o.Tags[element] == nil {
		o.Tags[element] = make(map[string]bool)
	}
	o.Tags[element][tag] = true
	return tag
}

// Remove clears all tags observed for the element. Tags added concurrently
// on other replicas survive a later merge, which is the variant's defined
// behavior.
func (o *ORSet) Remove(element string) {
	delete(o.Tags, element)
}

// Contains reports whether the element has at least one live tag.
func (o *ORSet) Contains(element string) bool {
	return len(o.Tags[element]) > 0
}

// Value returns the sorted live element list.
func (o *ORSet) Value() any {
	live := make([]string, 0, len(o.Tags))
	for e, tags := range o.Tags {
		if len(tags) > 0 {
			live = append(live, e)
		}
	}
	sort.Strings(live)
	return live
}

// Merge takes the per-element tag-set union.
func (o *ORSet) Merge(other CRDT) error {
	oo, ok := other.(*ORSet)
	if !ok {
		return mismatch(o.Type(), other.Type())
	}
	for e, tags := range oo.Tags {
		if o.Tags[e] == nil {
			o.Tags[e] = make(map[string]bool, len(tags))
		}
		for tag := range tags {
			o.Tags[e][tag] = true
		}
	}
	return nil
}

// Snapshot implements CRDT.
func (o *ORSet) Snapshot() (*CRDTSnapshot, error) { return snapshot(o.Type(), o) }

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
