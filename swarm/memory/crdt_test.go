package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCounter_IncrementAndMerge(t *testing.T) {
	a := NewGCounter()
	b := NewGCounter()

	a.Increment("node-a", 3)
	b.Increment("node-b", 2)
	b.Increment("node-a", 1) // stale view of node-a

	require.NoError(t, a.Merge(b))
	assert.Equal(t, int64(5), a.Value())

	// Idempotent
	require.NoError(t, a.Merge(b))
	assert.Equal(t, int64(5), a.Value())
}

func TestPNCounter_Value(t *testing.T) {
	c := NewPNCounter()
	c.Increment("node-a", 10)
	c.Increment("node-a", -4)
	assert.Equal(t, int64(6), c.Value())

	other := NewPNCounter()
	other.Increment("node-b", -1)
	require.NoError(t, c.Merge(other))
	assert.Equal(t, int64(5), c.Value())
}

func TestGSet_UnionMerge(t *testing.T) {
	a := NewGSet()
	b := NewGSet()
	a.Add("x")
	b.Add("y")

	require.NoError(t, a.Merge(b))
	assert.Equal(t, []string{"x", "y"}, a.Value())
	assert.True(t, a.Contains("x"))
	assert.True(t, a.Contains("y"))
}

func TestTwoPhaseSet_RemovalIsPermanent(t *testing.T) {
	s := NewTwoPhaseSet()
	s.Add("x")
	require.True(t, s.Contains("x"))

	s.Remove("x")
	assert.False(t, s.Contains("x"))

	// Re-adding has no visible effect: the removal wins forever.
	s.Add("x")
	assert.False(t, s.Contains("x"))
	assert.Empty(t, s.Value())
}

func TestLWWRegister_StrictlyNewerWins(t *testing.T) {
	r := NewLWWRegister()
	require.True(t, r.Set("first", 100, "node-a"))
	require.False(t, r.Set("older", 50, "node-b"))
	assert.Equal(t, "first", r.Value())

	// Equal timestamp: higher node id wins, deterministically.
	require.True(t, r.Set("tie", 100, "node-z"))
	assert.Equal(t, "tie", r.Value())

	other := NewLWWRegister()
	other.Set("newest", 200, "node-b")
	require.NoError(t, r.Merge(other))
	assert.Equal(t, "newest", r.Value())
}

// Two replicas add "x", one removes it, then re-adds. After merge "x" must be
// present: the observed-remove set supports re-add, unlike the two-phase set
// where the element would stay permanently absent.
func TestORSet_ReAddAfterRemove(t *testing.T) {
	a := NewORSet()
	b := NewORSet()

	a.Add("x")
	b.Add("x")

	b.Remove("x")
	assert.False(t, b.Contains("x"))

	b.Add("x")
	require.NoError(t, a.Merge(b))
	require.NoError(t, b.Merge(a))

	assert.True(t, a.Contains("x"))
	assert.True(t, b.Contains("x"))

	// Contrast with the two-phase set under the same script.
	pa := NewTwoPhaseSet()
	pb := NewTwoPhaseSet()
	pa.Add("x")
	pb.Add("x")
	pb.Remove("x")
	pb.Add("x")
	require.NoError(t, pa.Merge(pb))
	require.NoError(t, pb.Merge(pa))
	assert.False(t, pa.Contains("x"))
	assert.False(t, pb.Contains("x"))
}

func TestCRDT_MergeTypeMismatch(t *testing.T) {
	g := NewGCounter()
	s := NewGSet()
	err := g.Merge(s)
	require.Error(t, err)
}

func TestCRDT_SnapshotRoundTrip(t *testing.T) {
	o := NewORSet()
	o.Add("a")
	o.Add("b")
	o.Remove("a")

	snap, err := o.Snapshot()
	require.NoError(t, err)

	restored, err := FromSnapshot(snap)
	require.NoError(t, err)
	assert.Equal(t, o.Value(), restored.Value())
}

func TestNewCRDT_UnknownType(t *testing.T) {
	_, err := NewCRDT(CRDTType("bogus"))
	require.Error(t, err)
}
