package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// OpKind identifies a memory mutation in the operation log.
type OpKind string

const (
	OpStore     OpKind = "store"
	OpDelete    OpKind = "delete"
	OpIncrement OpKind = "increment"
	OpAdd       OpKind = "add"
	OpRemove    OpKind = "remove"
)

// Operation is an immutable record appended on every memory mutation. It is
// used for anti-entropy sync and is replayed idempotently by id.
type Operation struct {
	ID        string      `json:"id"`
	Kind      OpKind      `json:"kind"`
	Key       string      `json:"key"`
	Value     any         `json:"value,omitempty"`
	Amount    int64       `json:"amount,omitempty"`
	Node      string      `json:"node"`
	Timestamp time.Time   `json:"timestamp"`
	Clock     VectorClock `json:"clock"`
}

// StoreState is a serializable snapshot of the store for transport to peers.
type StoreState struct {
	NodeID     string                   `json:"node_id"`
	Clock      VectorClock              `json:"clock"`
	Entries    map[string]*CRDTSnapshot `json:"entries"`
	Operations []Operation              `json:"operations"`
	Tombstones map[string]time.Time     `json:"tombstones"`
}

// Stats summarizes store activity.
type Stats struct {
	Keys          int `json:"keys"`
	Operations    int `json:"operations"`
	Tombstones    int `json:"tombstones"`
	MergesApplied int `json:"merges_applied"`
}

// Store is a replicated key-value store that merges without coordination.
// All mutations go through its public operations; each mutation ticks this
// node's vector clock and appends an operation-log entry.
type Store struct {
	mu sync.RWMutex

	nodeID  string
	cfg     config.MemoryConfig
	clock   VectorClock
	entries map[string]CRDT
	// tombstones maps deleted keys to deletion time. Entries survive until
	// the tombstone is garbage-collected so the delete propagates first.
	tombstones map[string]time.Time
	ops        []Operation
	seenOps    map[string]bool
	merges     int

	logger *zap.Logger
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewStore creates a store owned by the given node.
func NewStore(nodeID string, cfg config.MemoryConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &Store{
		nodeID:     nodeID,
		cfg:        cfg,
		clock:      NewVectorClock(),
		entries:    make(map[string]CRDT),
		tombstones: make(map[string]time.Time),
		seenOps:    make(map[string]bool),
		logger:     logger.With(zap.String("component", "memory_store"), zap.String("node_id", nodeID)),
	}
}

// NodeID returns the owning node's identifier.
func (s *Store) NodeID() string { return s.nodeID }

// Start launches the garbage collection timer.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.gcLoop(s.done)
}

// Stop halts the garbage collection timer. Stopping twice is a no-op.
func (s *Store) Stop() {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()
	if done != nil {
		close(done)
		s.wg.Wait()
	}
}

func (s *Store) gcLoop(done chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.RunGC(time.Now())
		}
	}
}

// RunGC trims the operation log to the configured maximum and purges
// tombstones (together with their entries) older than twice the GC interval.
func (s *Store) RunGC(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trimOpsLocked()

	retention := 2 * s.cfg.GCInterval
	purged := 0
	for key, deletedAt := range s.tombstones {
		if now.Sub(deletedAt) > retention {
			delete(s.tombstones, key)
			delete(s.entries, key)
			purged++
		}
	}
	if purged > 0 {
		s.logger.Debug("garbage collected tombstones", zap.Int("purged", purged))
	}
}

// CreateCRDT creates an empty entry of the given variant at key. It fails if
// the key already holds a different variant.
func (s *Store) CreateCRDT(key string, t CRDTType) (CRDT, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryLocked(key, t)
}

// Store writes a value at key through a last-write-wins register.
func (s *Store) Store(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(key, CRDTTypeLWWRegister)
	if err != nil {
		return err
	}
	reg := entry.(*LWWRegister)
	now := time.Now()
	reg.Set(value, now.UnixNano(), s.nodeID)
	delete(s.tombstones, key)
	s.recordLocked(Operation{Kind: OpStore, Key: key, Value: value, Timestamp: now})
	return nil
}

// Retrieve returns the value at key. Tombstoned and unknown keys report a
// not-found error.
func (s *Store) Retrieve(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, dead := s.tombstones[key]; dead {
		return nil, types.NewErrorf(types.ErrKeyNotFound, "key %q deleted", key)
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, types.NewErrorf(types.ErrKeyNotFound, "key %q not found", key)
	}
	return entry.Value(), nil
}

// Delete writes a tombstone for key. The entry is retained until garbage
// collection so the deletion propagates to peers first.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return types.NewErrorf(types.ErrKeyNotFound, "key %q not found", key)
	}
	now := time.Now()
	s.tombstones[key] = now
	s.recordLocked(Operation{Kind: OpDelete, Key: key, Timestamp: now})
	return nil
}

// Increment applies a signed delta to the counter at key, creating a
// positive-negative counter on first use.
func (s *Store) Increment(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(key, CRDTTypePNCounter)
	if err != nil {
		return 0, err
	}
	switch c := entry.(type) {
	case *PNCounter:
		c.Increment(s.nodeID, delta)
	case *GCounter:
		if delta < 0 {
			return 0, types.NewErrorf(types.ErrTypeMismatch, "key %q is a grow-only counter", key)
		}
		c.Increment(s.nodeID, uint64(delta))
	default:
		return 0, types.NewErrorf(types.ErrTypeMismatch, "key %q is not a counter", key)
	}
	s.recordLocked(Operation{Kind: OpIncrement, Key: key, Amount: delta, Timestamp: time.Now()})
	return entry.Value().(int64), nil
}

// Add inserts an element into the set at key. New keys default to the
// observed-remove variant; pass an explicit variant to create a grow-only or
// two-phase set instead.
func (s *Store) Add(key, element string, variant CRDTType) error {
	if variant == "" {
		variant = CRDTTypeORSet
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(key, variant)
	if err != nil {
		return err
	}
	switch set := entry.(type) {
	case *ORSet:
		set.Add(element)
	case *GSet:
		set.Add(element)
	case *TwoPhaseSet:
		set.Add(element)
	default:
		return types.NewErrorf(types.ErrTypeMismatch, "key %q is not a set", key)
	}
	s.recordLocked(Operation{Kind: OpAdd, Key: key, Value: element, Timestamp: time.Now()})
	return nil
}

// Remove deletes an element from the set at key.
func (s *Store) Remove(key, element string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return types.NewErrorf(types.ErrKeyNotFound, "key %q not found", key)
	}
	switch set := entry.(type) {
	case *ORSet:
		set.Remove(element)
	case *TwoPhaseSet:
		set.Remove(element)
	case *GSet:
		return types.NewErrorf(types.ErrTypeMismatch, "key %q is a grow-only set", key)
	default:
		return types.NewErrorf(types.ErrTypeMismatch, "key %q is not a set", key)
	}
	s.recordLocked(Operation{Kind: OpRemove, Key: key, Value: element, Timestamp: time.Now()})
	return nil
}

// Get returns the raw CRDT at key, if present.
func (s *Store) Get(key string) (CRDT, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return entry, ok
}

// Clock returns a copy of the current vector clock.
func (s *Store) Clock() VectorClock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Clone()
}

// State returns a serializable snapshot for anti-entropy transport. Only
// operations at or after since are included in the log tail; pass the zero
// time for the full retained log.
func (s *Store) State(since time.Time) (*StoreState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &StoreState{
		NodeID:     s.nodeID,
		Clock:      s.clock.Clone(),
		Entries:    make(map[string]*CRDTSnapshot, len(s.entries)),
		Tombstones: make(map[string]time.Time, len(s.tombstones)),
	}
	for key, entry := range s.entries {
		snap, err := entry.Snapshot()
		if err != nil {
			return nil, err
		}
		state.Entries[key] = snap
	}
	for key, deletedAt := range s.tombstones {
		state.Tombstones[key] = deletedAt
	}
	for _, op := range s.ops {
		if since.IsZero() || !op.Timestamp.Before(since) {
			state.Operations = append(state.Operations, op)
		}
	}
	return state, nil
}

// MergeState folds a remote snapshot into the local store: variant-specific
// entry merges, per-node-max clock merge, and idempotent replay of unseen
// operation-log entries.
func (s *Store) MergeState(remote *StoreState) error {
	if remote == nil {
		return types.NewError(types.ErrPreconditionFailed, "nil remote state")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, snap := range remote.Entries {
		incoming, err := FromSnapshot(snap)
		if err != nil {
			return err
		}
		local, ok := s.entries[key]
		if !ok {
			s.entries[key] = incoming
			continue
		}
		if err := local.Merge(incoming); err != nil {
			s.logger.Warn("skipping entry with variant conflict",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	for key, deletedAt := range remote.Tombstones {
		if existing, ok := s.tombstones[key]; !ok || deletedAt.After(existing) {
			s.tombstones[key] = deletedAt
		}
	}

	s.clock.Merge(remote.Clock)

	for _, op := range remote.Operations {
		if s.seenOps[op.ID] {
			continue
		}
		s.seenOps[op.ID] = true
		s.ops = append(s.ops, op)
	}
	s.trimOpsLocked()

	s.merges++
	s.logger.Debug("merged remote state",
		zap.String("remote_node", remote.NodeID),
		zap.Int("entries", len(remote.Entries)),
	)
	return nil
}

// Statistics returns current store statistics.
func (s *Store) Statistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Keys:          len(s.entries),
		Operations:    len(s.ops),
		Tombstones:    len(s.tombstones),
		MergesApplied: s.merges,
	}
}

// entryLocked returns the entry at key, creating it lazily with the given
// variant. Holding an entry of a different variant is a type mismatch.
func (s *Store) entryLocked(key string, t CRDTType) (CRDT, error) {
	if entry, ok := s.entries[key]; ok {
		if entry.Type() != t && !counterCompatible(entry.Type(), t) && !setCompatible(entry.Type(), t) {
			return nil, types.NewErrorf(types.ErrTypeMismatch, "key %q holds %s, want %s", key, entry.Type(), t)
		}
		return entry, nil
	}
	entry, err := NewCRDT(t)
	if err != nil {
		return nil, err
	}
	s.entries[key] = entry
	return entry, nil
}

// counterCompatible lets Increment route to either counter variant.
func counterCompatible(have, want CRDTType) bool {
	if want != CRDTTypePNCounter {
		return false
	}
	return have == CRDTTypeGCounter || have == CRDTTypePNCounter
}

// setCompatible lets Add route to whichever set variant the key was created
// with.
func setCompatible(have, want CRDTType) bool {
	switch want {
	case CRDTTypeORSet, CRDTTypeGSet, CRDTTypeTwoPhaseSet:
	default:
		return false
	}
	switch have {
	case CRDTTypeORSet, CRDTTypeGSet, CRDTTypeTwoPhaseSet:
		return true
	}
	return false
}

// recordLocked ticks the clock and appends an operation-log entry.
func (s *Store) recordLocked(op Operation) {
	s.clock.Tick(s.nodeID)
	op.ID = uuid.NewString()
	op.Node = s.nodeID
	op.Clock = s.clock.Clone()
	s.seenOps[op.ID] = true
	s.ops = append(s.ops, op)
	s.trimOpsLocked()
}

func (s *Store) trimOpsLocked() {
	if max := s.cfg.MaxOperationLog; max > 0 && len(s.ops) > max {
		trimmed := s.ops[len(s.ops)-max:]
		for _, op := range s.ops[:len(s.ops)-max] {
			delete(s.seenOps, op.ID)
		}
		s.ops = append([]Operation(nil), trimmed...)
	}
}
