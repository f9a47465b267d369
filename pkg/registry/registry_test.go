package registry

import (
	"fmt"
	"io"
	"net/netip"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-protocol/meshguard/pkg/clock"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func addr(i int) netip.Addr {
	return netip.MustParseAddr(fmt.Sprintf("fd00::212:4b00:%x", i))
}

func newTestRegistry(clk clock.Clock) *Registry {
	return New(4, 30, clk, quietLogger())
}

func TestLookupOrCreateReturnsSameRecord(t *testing.T) {
	clk := clock.NewManual(100)
	r := newTestRegistry(clk)

	first, err := r.LookupOrCreate(addr(1))
	require.NoError(t, err)
	assert.True(t, first.Active)
	assert.Equal(t, int64(100), first.CreatedAt)
	assert.Zero(t, first.LastPacketTime)

	first.Record(64)
	first.Active = false

	again, err := r.LookupOrCreate(addr(1))
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.True(t, again.Active, "lookup must reactivate the record")
	assert.Equal(t, uint32(1), again.PacketCount)
	assert.Equal(t, uint(1), r.Len())
}

func TestCapacityExhausted(t *testing.T) {
	clk := clock.NewManual(0)
	r := newTestRegistry(clk)

	for i := 0; i < 4; i++ {
		_, err := r.LookupOrCreate(addr(i))
		require.NoError(t, err)
	}

	_, err := r.LookupOrCreate(addr(4))
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, uint(4), r.Len())
}

func TestCapacityFreedByCleanup(t *testing.T) {
	clk := clock.NewManual(0)
	r := newTestRegistry(clk)

	for i := 0; i < 4; i++ {
		n, err := r.LookupOrCreate(addr(i))
		require.NoError(t, err)
		n.LastPacketTime = clk.Now()
	}

	require.True(t, r.Deactivate(addr(2)))

	// not idle long enough yet
	clk.Advance(30)
	_, err := r.LookupOrCreate(addr(4))
	assert.ErrorIs(t, err, ErrCapacity)

	clk.Advance(1)
	n, err := r.LookupOrCreate(addr(4))
	require.NoError(t, err)
	assert.Equal(t, addr(4), n.Identity)

	_, ok := r.Get(addr(2))
	assert.False(t, ok, "idle entry should have been reclaimed")
	assert.Equal(t, uint(4), r.Len())
}

func TestSweepOnlyRemovesInactiveIdle(t *testing.T) {
	clk := clock.NewManual(10)
	r := newTestRegistry(clk)

	active, _ := r.LookupOrCreate(addr(1))
	active.LastPacketTime = 10
	inactive, _ := r.LookupOrCreate(addr(2))
	inactive.LastPacketTime = 10
	inactive.Active = false
	recent, _ := r.LookupOrCreate(addr(3))
	recent.LastPacketTime = 40
	recent.Active = false

	clk.Set(50)
	assert.Equal(t, 1, r.Sweep())

	_, ok := r.Get(addr(1))
	assert.True(t, ok)
	_, ok = r.Get(addr(2))
	assert.False(t, ok)
	_, ok = r.Get(addr(3))
	assert.True(t, ok)
}

func TestSweepRemovesAdjacentEntries(t *testing.T) {
	clk := clock.NewManual(0)
	r := newTestRegistry(clk)

	for i := 0; i < 4; i++ {
		_, err := r.LookupOrCreate(addr(i))
		require.NoError(t, err)
		r.Deactivate(addr(i))
	}

	clk.Advance(31)
	assert.Equal(t, 4, r.Sweep())
	assert.Zero(t, r.Len())
}

func TestRecordWrapsVector(t *testing.T) {
	var n NodeStat
	for i := 1; i <= 12; i++ {
		n.Record(uint32(i))
	}
	assert.Equal(t, uint32(12), n.PacketCount)
	assert.Equal(t, uint8(2), n.VectorIndex)
	assert.Equal(t, uint32(11), n.TrafficVector[0])
	assert.Equal(t, uint32(12), n.TrafficVector[1])
	assert.Equal(t, uint32(3), n.TrafficVector[2])
}

func TestSnapshotCopies(t *testing.T) {
	r := newTestRegistry(clock.NewManual(0))
	n, _ := r.LookupOrCreate(addr(7))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	snap[0].PacketCount = 99

	assert.Zero(t, n.PacketCount)
	assert.Equal(t, uint(4), r.Cap())
}
