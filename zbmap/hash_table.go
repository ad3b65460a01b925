package zbmap

import (
	"fmt"
	"math"
)

const sizeOfLong = 8

// HashTable is the directory of the map: a dense array of 64 bit bucket
// addresses, indexed by the low bits of a key hash. It grows by doubling,
// where the new high half starts out as a copy of the low half.
type HashTable struct {
	store     Store
	buffer    *LoadedBuffer
	tableSize int64
}

func NewHashTable(store Store, tableSize int64) (*HashTable, error) {
	if err := checkTableSize(tableSize); err != nil {
		return nil, err
	}
	buffer, err := NewLoadedBuffer(store, 0, int(tableSize*sizeOfLong))
	if err != nil {
		return nil, err
	}
	return &HashTable{
		store:     store,
		buffer:    buffer,
		tableSize: tableSize,
	}, nil
}

func checkTableSize(tableSize int64) error {
	if tableSize <= 0 || tableSize > math.MaxInt64/sizeOfLong {
		return fmt.Errorf("%w: table size %d", ErrCapacityOverflow, tableSize)
	}
	return nil
}

// Length returns the directory length in bytes.
func (h *HashTable) Length() int64 {
	return h.tableSize * sizeOfLong
}

func (h *HashTable) GetBucketAddress(id int64) int64 {
	return getInt64(h.buffer.Bytes(), int(id*sizeOfLong))
}

func (h *HashTable) SetBucketAddress(id int64, address int64) {
	putInt64(h.buffer.Bytes(), int(id*sizeOfLong), address)
}

// Resize grows the directory to newSize slots. Every doubling copies the
// current entries into the new high half, so directory lookups stay
// consistent until buckets are split and redirected.
func (h *HashTable) Resize(newSize int64) error {
	if err := checkTableSize(newSize); err != nil {
		return err
	}
	if newSize <= h.tableSize {
		return nil
	}

	oldLength := int(h.tableSize * sizeOfLong)
	if err := h.buffer.Write(); err != nil {
		return err
	}
	if err := h.buffer.Load(0, int(newSize*sizeOfLong)); err != nil {
		return err
	}

	b := h.buffer.Bytes()
	for filled := oldLength; filled < len(b); filled *= 2 {
		copy(b[filled:], b[:filled])
	}

	h.tableSize = newSize
	return h.buffer.Write()
}

// Clear zeroes all entries without shrinking the backing region.
func (h *HashTable) Clear() error {
	b := h.buffer.Bytes()
	for i := range b {
		b[i] = 0
	}
	return h.buffer.Write()
}

// Flush writes the cached directory back to the store.
func (h *HashTable) Flush() error {
	return h.buffer.Write()
}

func (h *HashTable) Close() error {
	if err := h.buffer.Write(); err != nil {
		h.store.Close()
		return err
	}
	return h.store.Close()
}
