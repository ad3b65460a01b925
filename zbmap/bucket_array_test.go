package zbmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T, blockCount int) *BucketArray {
	t.Helper()
	ba, err := NewBucketArray(NewMemoryStore(0), blockCount, 8, 8)
	require.NoError(t, err)
	return ba
}

func addLongBlock(t *testing.T, ba *BucketArray, address, key, value int64) bool {
	t.Helper()
	keyHandler := NewLongKeyHandler()
	keyHandler.TheKey = key
	valueHandler := NewLongValueHandler()
	valueHandler.TheValue = value
	return ba.AddBlock(address, keyHandler, valueHandler)
}

func readLongBlock(ba *BucketArray, address int64, blockOffset int) (int64, int64) {
	keyHandler := NewLongKeyHandler()
	valueHandler := NewLongValueHandler()
	ba.ReadKey(keyHandler, address, blockOffset)
	ba.ReadValue(valueHandler, address, blockOffset)
	return keyHandler.TheKey, valueHandler.TheValue
}

func TestBucketArrayAllocate(t *testing.T) {
	ba := newTestArena(t, 4)
	defer ba.Close()

	address, err := ba.AllocateNewBucket(3, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(arenaHeaderLength), address)
	assert.Equal(t, int64(3), ba.GetBucketID(address))
	assert.Equal(t, int32(2), ba.GetBucketDepth(address))
	assert.Equal(t, int32(0), ba.GetBucketFillCount(address))
	assert.Equal(t, int64(0), ba.GetBucketOverflowPointer(address))
	assert.Equal(t, int64(1), ba.BucketCount())
}

func TestBucketArrayAddressesAreStable(t *testing.T) {
	ba := newTestArena(t, 4)
	defer ba.Close()

	first, err := ba.AllocateNewBucket(0, 0)
	require.NoError(t, err)

	// Force several arena growth steps.
	for i := 0; i < 512; i++ {
		_, err := ba.AllocateNewBucket(int64(i), 0)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(arenaHeaderLength), first)
	assert.Equal(t, int64(0), ba.GetBucketID(first))
}

func TestBucketArrayAddAndReadBlock(t *testing.T) {
	ba := newTestArena(t, 2)
	defer ba.Close()

	address, err := ba.AllocateNewBucket(0, 0)
	require.NoError(t, err)

	assert.True(t, addLongBlock(t, ba, address, 17, 34))
	assert.Equal(t, int32(1), ba.GetBucketFillCount(address))

	key, value := readLongBlock(ba, address, ba.FirstBlockOffset())
	assert.Equal(t, int64(17), key)
	assert.Equal(t, int64(34), value)
}

func TestBucketArrayFullBucket(t *testing.T) {
	ba := newTestArena(t, 2)
	defer ba.Close()

	address, err := ba.AllocateNewBucket(0, 0)
	require.NoError(t, err)

	assert.True(t, addLongBlock(t, ba, address, 1, 1))
	assert.True(t, addLongBlock(t, ba, address, 2, 2))
	assert.False(t, addLongBlock(t, ba, address, 3, 3))
}

func TestBucketArrayAddUsesOverflowChain(t *testing.T) {
	ba := newTestArena(t, 1)
	defer ba.Close()

	address, err := ba.AllocateNewBucket(0, 0)
	require.NoError(t, err)
	require.True(t, addLongBlock(t, ba, address, 1, 1))

	overflow, err := ba.Overflow(address)
	require.NoError(t, err)

	assert.True(t, addLongBlock(t, ba, address, 2, 2))
	assert.Equal(t, int32(1), ba.GetBucketFillCount(overflow))
}

func TestBucketArrayRemoveBlockCompacts(t *testing.T) {
	ba := newTestArena(t, 3)
	defer ba.Close()

	address, err := ba.AllocateNewBucket(0, 0)
	require.NoError(t, err)

	require.True(t, addLongBlock(t, ba, address, 1, 10))
	require.True(t, addLongBlock(t, ba, address, 2, 20))
	require.True(t, addLongBlock(t, ba, address, 3, 30))

	secondOffset := ba.FirstBlockOffset() + ba.blockLength
	ba.RemoveBlock(address, secondOffset)

	assert.Equal(t, int32(2), ba.GetBucketFillCount(address))

	key, value := readLongBlock(ba, address, ba.FirstBlockOffset())
	assert.Equal(t, int64(1), key)
	assert.Equal(t, int64(10), value)

	key, value = readLongBlock(ba, address, secondOffset)
	assert.Equal(t, int64(3), key)
	assert.Equal(t, int64(30), value)
}

func TestBucketArrayUpdateValueInPlace(t *testing.T) {
	ba := newTestArena(t, 2)
	defer ba.Close()

	address, err := ba.AllocateNewBucket(0, 0)
	require.NoError(t, err)
	require.True(t, addLongBlock(t, ba, address, 1, 10))

	valueHandler := NewLongValueHandler()
	valueHandler.TheValue = 99
	ba.UpdateValue(valueHandler, address, ba.FirstBlockOffset())

	key, value := readLongBlock(ba, address, ba.FirstBlockOffset())
	assert.Equal(t, int64(1), key)
	assert.Equal(t, int64(99), value)
	assert.Equal(t, int32(1), ba.GetBucketFillCount(address))
}

func TestBucketArrayRelocateBlock(t *testing.T) {
	ba := newTestArena(t, 2)
	defer ba.Close()

	src, err := ba.AllocateNewBucket(0, 1)
	require.NoError(t, err)
	dst, err := ba.AllocateNewBucket(1, 1)
	require.NoError(t, err)

	require.True(t, addLongBlock(t, ba, src, 1, 10))
	require.True(t, addLongBlock(t, ba, src, 2, 20))

	require.NoError(t, ba.RelocateBlock(src, ba.FirstBlockOffset(), dst))

	assert.Equal(t, int32(1), ba.GetBucketFillCount(src))
	assert.Equal(t, int32(1), ba.GetBucketFillCount(dst))

	key, value := readLongBlock(ba, src, ba.FirstBlockOffset())
	assert.Equal(t, int64(2), key)
	assert.Equal(t, int64(20), value)

	key, value = readLongBlock(ba, dst, ba.FirstBlockOffset())
	assert.Equal(t, int64(1), key)
	assert.Equal(t, int64(10), value)
}

func TestBucketArrayRelocateOverflowsFullDestination(t *testing.T) {
	ba := newTestArena(t, 1)
	defer ba.Close()

	src, err := ba.AllocateNewBucket(0, 1)
	require.NoError(t, err)
	dst, err := ba.AllocateNewBucket(1, 1)
	require.NoError(t, err)

	require.True(t, addLongBlock(t, ba, src, 1, 10))
	require.True(t, addLongBlock(t, ba, dst, 2, 20))

	require.NoError(t, ba.RelocateBlock(src, ba.FirstBlockOffset(), dst))

	overflow := ba.GetBucketOverflowPointer(dst)
	require.NotEqual(t, int64(0), overflow)

	key, value := readLongBlock(ba, overflow, ba.FirstBlockOffset())
	assert.Equal(t, int64(1), key)
	assert.Equal(t, int64(10), value)
	assert.Equal(t, int32(0), ba.GetBucketFillCount(src))
}

func TestBucketArrayOverflowLinksChainEnd(t *testing.T) {
	ba := newTestArena(t, 1)
	defer ba.Close()

	address, err := ba.AllocateNewBucket(5, 3)
	require.NoError(t, err)

	first, err := ba.Overflow(address)
	require.NoError(t, err)
	second, err := ba.Overflow(address)
	require.NoError(t, err)

	assert.Equal(t, first, ba.GetBucketOverflowPointer(address))
	assert.Equal(t, second, ba.GetBucketOverflowPointer(first))
	assert.Equal(t, int64(5), ba.GetBucketID(second))
	assert.Equal(t, int32(3), ba.GetBucketDepth(second))
}

func TestBucketArrayLoadFactor(t *testing.T) {
	ba := newTestArena(t, 2)
	defer ba.Close()

	assert.Equal(t, 0.0, ba.LoadFactor())

	address, err := ba.AllocateNewBucket(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ba.LoadFactor())

	require.True(t, addLongBlock(t, ba, address, 1, 1))
	require.True(t, addLongBlock(t, ba, address, 2, 2))

	expected := float64(2*ba.blockLength) / float64(ba.maxBucketLength)
	assert.InDelta(t, expected, ba.LoadFactor(), 1e-9)
	assert.Less(t, ba.LoadFactor(), 1.0)
}

func TestBucketArrayClear(t *testing.T) {
	ba := newTestArena(t, 2)
	defer ba.Close()

	address, err := ba.AllocateNewBucket(0, 0)
	require.NoError(t, err)
	require.True(t, addLongBlock(t, ba, address, 1, 1))

	require.NoError(t, ba.Clear())

	assert.Equal(t, int64(0), ba.BucketCount())
	assert.Equal(t, int64(arenaHeaderLength), ba.CountOfUsedBytes())
}
