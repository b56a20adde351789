package dump

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	reg := NewRegistry()
	path := filepath.Join(t.TempDir(), "orders-1000.dump")

	w, err := OpenWrite(reg, path, KindOrders, 1700000300)
	require.NoError(t, err)
	require.NoError(t, w.WriteUint64(2))
	require.NoError(t, w.WriteUint8(1))
	require.NoError(t, w.WriteInt8(-2))
	require.NoError(t, w.WriteUint32(90))
	require.NoError(t, w.WriteFloat64(5.25))
	require.NoError(t, w.WriteFloat32(0.9456))
	require.NoError(t, w.WriteString("Jita IV - Moon 4"))
	require.NoError(t, w.Close())

	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, KindOrders, r.Kind())
	assert.Equal(t, uint64(1700000300), r.Expiration())
	require.NoError(t, r.Verify())

	n64, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n64)
	n8, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), n8)
	i8, err := r.ReadInt8()
	require.NoError(t, err)
	assert.Equal(t, int8(-2), i8)
	n32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(90), n32)
	f64, err := r.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, 5.25, f64)
	f32, err := r.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(0.9456), f32)
	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "Jita IV - Moon 4", s)

	// End of body: a boundary read reports clean EOF.
	_, err = r.ReadUint8()
	assert.Equal(t, io.EOF, err)
}

func TestHeaderBytes(t *testing.T) {
	reg := NewRegistry()
	path := filepath.Join(t.TempDir(), "hist.dump")

	w, err := OpenWrite(reg, path, KindHistories, 0x0102030405060708)
	require.NoError(t, err)
	require.NoError(t, w.WriteUint8(0xAB))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, HeaderSize+1)

	assert.Equal(t, byte(Version), raw[0])
	assert.Equal(t, byte(KindHistories), raw[1])
	// Expiration big-endian at offset 6.
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, raw[6:14])
	assert.Equal(t, magic[:], raw[14:46])

	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()
	assert.NoError(t, r.Verify())
}

func TestChecksumFinalizedOnClose(t *testing.T) {
	reg := NewRegistry()
	path := filepath.Join(t.TempDir(), "loc.dump")

	w, err := OpenWrite(reg, path, KindLocations, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteString("payload"))
	sum := w.Checksum()
	require.NoError(t, w.Close())

	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, sum, r.Checksum())
	assert.NotZero(t, sum)
}

func TestCorruptBodyDetected(t *testing.T) {
	reg := NewRegistry()
	path := filepath.Join(t.TempDir(), "orders.dump")

	w, err := OpenWrite(reg, path, KindOrders, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteUint64(7))
	require.NoError(t, w.WriteString("abcdef"))
	require.NoError(t, w.Close())

	// Flip one body byte on disk.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[HeaderSize+3] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()
	assert.ErrorIs(t, r.Verify(), ErrCorrupt)
}

func TestBadMagicRejected(t *testing.T) {
	reg := NewRegistry()
	path := filepath.Join(t.TempDir(), "x.dump")

	w, err := OpenWrite(reg, path, KindOrders, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[20] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = OpenRead(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenExclusiveRefusesOverwrite(t *testing.T) {
	reg := NewRegistry()
	path := filepath.Join(t.TempDir(), "history-day-123.dump")

	w, err := OpenExclusive(reg, path, KindHistories, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteUint64(42))
	require.NoError(t, w.Close())

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = OpenExclusive(reg, path, KindHistories, 0)
	assert.ErrorIs(t, err, ErrExists)

	// The existing file must not have been truncated.
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRegistryTracksAndBurns(t *testing.T) {
	reg := NewRegistry()
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.dump")
	p2 := filepath.Join(dir, "b.dump")

	w1, err := OpenWrite(reg, p1, KindOrders, 0)
	require.NoError(t, err)
	w2, err := OpenWrite(reg, p2, KindLocations, 0)
	require.NoError(t, err)

	require.NoError(t, w1.WriteUint64(1))
	assert.Equal(t, 2, reg.Len())
	assert.True(t, reg.Contains(p1))
	assert.True(t, reg.Contains(p2))

	// A clean close releases its slot and keeps the file.
	require.NoError(t, w2.Close())
	assert.Equal(t, 1, reg.Len())
	assert.False(t, reg.Contains(p2))

	reg.Burn()
	assert.Equal(t, 0, reg.Len())
	_, err = os.Stat(p1)
	assert.True(t, os.IsNotExist(err), "in-progress dump must be unlinked by burn")
	_, err = os.Stat(p2)
	assert.NoError(t, err, "finalized dump must survive burn")
}

func TestAbortRemovesFile(t *testing.T) {
	reg := NewRegistry()
	path := filepath.Join(t.TempDir(), "partial.dump")

	w, err := OpenWrite(reg, path, KindInternal, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteUint64(99))
	w.Abort()

	assert.Equal(t, 0, reg.Len())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRegistryFull(t *testing.T) {
	reg := NewRegistry()
	dir := t.TempDir()

	writers := make([]*Writer, 0, registrySlots)
	for i := 0; i < registrySlots; i++ {
		w, err := OpenWrite(reg, filepath.Join(dir, filepath.Base(dir)+string(rune('a'+i))+".dump"), KindInternal, 0)
		require.NoError(t, err)
		writers = append(writers, w)
	}
	_, err := OpenWrite(reg, filepath.Join(dir, "overflow.dump"), KindInternal, 0)
	assert.ErrorIs(t, err, ErrRegistryFull)

	for _, w := range writers {
		require.NoError(t, w.Close())
	}
}

func TestTruncatedStringIsCorrupt(t *testing.T) {
	reg := NewRegistry()
	path := filepath.Join(t.TempDir(), "t.dump")

	w, err := OpenWrite(reg, path, KindLocations, 0)
	require.NoError(t, err)
	// Length prefix promises more bytes than follow.
	require.NoError(t, w.WriteUint64(10))
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()
	_, err = r.ReadString()
	assert.ErrorIs(t, err, ErrCorrupt)
}
