package zbmap

import (
	"fmt"
	"log"
	"math/bits"
	"runtime"
	"sync/atomic"
)

const (
	// DefaultTableSize is the initial directory size when none is given.
	DefaultTableSize = 32

	// DefaultBlockCount is the number of blocks per bucket when none is
	// given.
	DefaultBlockCount = 16

	// MaxTableSize is the hard cap on directory doubling: the last power
	// of two whose byte length (slots times 8) fits a signed 32 bit
	// integer.
	MaxTableSize = 1 << 27

	defaultLoadFactorOverflowLimit = 0.6
)

// LeakHandler is invoked when a ZbMap is reclaimed by the garbage
// collector without Close having been called. Overridable for tests and
// leak audits.
var LeakHandler = func() {
	log.Printf("zbmap: ZbMap is being garbage collected but was not closed; " +
		"off heap memory is not reclaimed unless Close is invoked")
}

// Config carries the construction options of a map. Zero values fall back
// to the defaults; stores default to in-memory arenas.
type Config struct {
	InitialTableSize       int64
	MaxTableSize           int64
	MinBlockCountPerBucket int

	// TableStore backs the directory, BucketStore the bucket arena.
	TableStore  Store
	BucketStore Store
}

// ZbMap is a map on page addressable storage using extensible hashing.
// It is not thread safe: all operations belong to one logical owner.
//
// Each operation works against the key and value staged in the handlers;
// the typed wrappers convert strongly typed keys and values into handler
// state before calling into the core.
type ZbMap struct {
	keyHandler      KeyHandler
	splitKeyHandler KeyHandler
	valueHandler    ValueHandler

	hashTable   *HashTable
	bucketArray *BucketArray

	tableSize               int64
	maxTableSize            int64
	mask                    uint64
	loadFactorOverflowLimit float64

	// modCount tracks structural modifications so iteration can fail
	// fast when the map changes under it.
	modCount int64

	isClosed atomic.Bool
}

// NewZbMap creates a map. The key handler factory is called twice (one
// instance for lookups, one for split redistribution); the value handler
// is used as is.
func NewZbMap(newKeyHandler func() KeyHandler, valueHandler ValueHandler, cfg Config) (*ZbMap, error) {
	initialTableSize := cfg.InitialTableSize
	if initialTableSize == 0 {
		initialTableSize = DefaultTableSize
	}
	maxTableSize := cfg.MaxTableSize
	if maxTableSize == 0 {
		maxTableSize = MaxTableSize
	}
	blockCount := cfg.MinBlockCountPerBucket
	if blockCount == 0 {
		blockCount = DefaultBlockCount
	}

	tableStore := cfg.TableStore
	if tableStore == nil {
		tableStore = NewMemoryStore(initialTableSize * sizeOfLong)
	}
	bucketStore := cfg.BucketStore
	if bucketStore == nil {
		bucketStore = NewMemoryStore(0)
	}

	keyHandler := newKeyHandler()

	tableSize := ensureTableSizeIsPowerOfTwo(initialTableSize)
	hashTable, err := NewHashTable(tableStore, tableSize)
	if err != nil {
		return nil, err
	}
	bucketArray, err := NewBucketArray(bucketStore, blockCount, keyHandler.KeyLength(), valueHandler.ValueLength())
	if err != nil {
		return nil, err
	}

	m := &ZbMap{
		keyHandler:              keyHandler,
		splitKeyHandler:         newKeyHandler(),
		valueHandler:            valueHandler,
		hashTable:               hashTable,
		bucketArray:             bucketArray,
		tableSize:               tableSize,
		maxTableSize:            ensureTableSizeIsPowerOfTwo(maxTableSize),
		mask:                    uint64(tableSize - 1),
		loadFactorOverflowLimit: defaultLoadFactorOverflowLimit,
	}

	if err := m.init(); err != nil {
		return nil, err
	}

	runtime.SetFinalizer(m, func(m *ZbMap) {
		if !m.isClosed.Load() {
			LeakHandler()
		}
	})
	return m, nil
}

func ensureTableSizeIsPowerOfTwo(tableSize int64) int64 {
	powerOfTwo := int64(1)
	if tableSize > 1 {
		powerOfTwo = int64(1) << bits.Len64(uint64(tableSize-1))
	}

	if powerOfTwo != tableSize {
		log.Printf("zbmap: table size %d is not a power of two, using %d instead", tableSize, powerOfTwo)
	}
	if powerOfTwo > MaxTableSize {
		log.Printf("zbmap: table size %d greater than max table size, using %d instead", powerOfTwo, int64(MaxTableSize))
		return MaxTableSize
	}
	return powerOfTwo
}

// init points every directory slot at a single fresh bucket of depth 0.
func (m *ZbMap) init() error {
	bucketAddress, err := m.bucketArray.AllocateNewBucket(0, 0)
	if err != nil {
		return err
	}
	for id := int64(0); id < m.tableSize; id++ {
		m.hashTable.SetBucketAddress(id, bucketAddress)
	}
	m.modCount = 0
	return nil
}

// SetLoadFactorOverflowLimit sets the load factor below which a filled
// bucket overflows instead of doubling the directory.
func (m *ZbMap) SetLoadFactorOverflowLimit(limit float64) {
	m.loadFactorOverflowLimit = limit
}

// KeyHandler returns the lookup key handler for staging keys.
func (m *ZbMap) KeyHandler() KeyHandler {
	return m.keyHandler
}

// ValueHandler returns the value handler for staging values.
func (m *ZbMap) ValueHandler() ValueHandler {
	return m.valueHandler
}

// TableSize returns the current directory size in slots.
func (m *ZbMap) TableSize() int64 {
	return m.tableSize
}

// HashTableSize returns the directory length in bytes.
func (m *ZbMap) HashTableSize() int64 {
	return m.hashTable.Length()
}

// Size returns the byte footprint of the map: directory plus used arena
// bytes.
func (m *ZbMap) Size() int64 {
	return m.hashTable.Length() + m.bucketArray.CountOfUsedBytes()
}

// BucketCount returns the number of allocated buckets.
func (m *ZbMap) BucketCount() int64 {
	return m.bucketArray.BucketCount()
}

// Put inserts or updates the staged key and value. It reports whether an
// existing value was updated.
func (m *ZbMap) Put() (bool, error) {
	keyHash := m.keyHandler.Hash()
	bucketID := int64(keyHash & m.mask)

	isUpdated := false
	isPut := false
	scanForKey := true

	for !isPut && !isUpdated {
		bucketAddress := m.hashTable.GetBucketAddress(bucketID)

		if scanForKey {
			found, foundAddress, foundOffset := m.findBlockInBucket(bucketAddress)
			if found {
				m.bucketArray.UpdateValue(m.valueHandler, foundAddress, foundOffset)
				m.modCount++
				isUpdated = true
			}
			scanForKey = found
		} else {
			isPut = m.bucketArray.AddBlock(bucketAddress, m.keyHandler, m.valueHandler)

			if !isPut {
				if err := m.splitBucket(bucketAddress); err != nil {
					return false, err
				}
				// The split may have doubled the directory, so the
				// bucket id has to be derived from the current mask.
				bucketID = int64(keyHash & m.mask)
				scanForKey = true
			}

			m.modCount++
		}
	}
	return isUpdated, nil
}

// Get reads the value of the staged key into the value handler and
// reports whether the key was found.
func (m *ZbMap) Get() bool {
	found, bucketAddress, blockOffset := m.findBlock()
	if found {
		m.bucketArray.ReadValue(m.valueHandler, bucketAddress, blockOffset)
	}
	return found
}

// Remove unmaps the staged key. The prior value is read into the value
// handler so the caller receives it back.
func (m *ZbMap) Remove() bool {
	found, bucketAddress, blockOffset := m.findBlock()
	if found {
		m.bucketArray.ReadValue(m.valueHandler, bucketAddress, blockOffset)
		m.bucketArray.RemoveBlock(bucketAddress, blockOffset)
		m.modCount++
	}
	return found
}

func (m *ZbMap) findBlock() (bool, int64, int) {
	bucketID := int64(m.keyHandler.Hash() & m.mask)
	bucketAddress := m.hashTable.GetBucketAddress(bucketID)
	return m.findBlockInBucket(bucketAddress)
}

// findBlockInBucket walks the bucket and its overflow chain comparing
// every stored key against the staged one.
func (m *ZbMap) findBlockInBucket(bucketAddress int64) (bool, int64, int) {
	for bucketAddress > 0 {
		fillCount := m.bucketArray.GetBucketFillCount(bucketAddress)
		blockOffset := m.bucketArray.FirstBlockOffset()

		for visited := int32(0); visited < fillCount; visited++ {
			if m.bucketArray.KeyEquals(m.keyHandler, bucketAddress, blockOffset) {
				return true, bucketAddress, blockOffset
			}
			blockOffset += m.bucketArray.GetBlockLength(bucketAddress, blockOffset)
		}

		bucketAddress = m.bucketArray.GetBucketOverflowPointer(bucketAddress)
	}
	return false, -1, -1
}

// splitBucket resolves a filled bucket: split in place when the sibling id
// fits the directory, otherwise overflow under the load factor limit or
// double the directory and split.
func (m *ZbMap) splitBucket(filledBucketAddress int64) error {
	filledBucketID := m.bucketArray.GetBucketID(filledBucketAddress)
	bucketDepth := m.bucketArray.GetBucketDepth(filledBucketAddress)

	newBucketID := int64(1)<<bucketDepth | filledBucketID
	newBucketDepth := bucketDepth + 1

	if newBucketID < m.tableSize {
		return m.createNewBucket(filledBucketAddress, bucketDepth, newBucketID, newBucketDepth)
	}

	loadFactor := m.bucketArray.LoadFactor()
	if loadFactor < m.loadFactorOverflowLimit {
		_, err := m.bucketArray.Overflow(filledBucketAddress)
		return err
	}

	newTableSize := m.tableSize << 1
	if newTableSize > m.maxTableSize {
		return fmt.Errorf("%w: cannot resize hash table to %d, max table size is %d",
			ErrMapFull, newTableSize, m.maxTableSize)
	}

	if err := m.hashTable.Resize(newTableSize); err != nil {
		return err
	}
	m.tableSize = newTableSize
	m.mask = uint64(newTableSize - 1)

	return m.createNewBucket(filledBucketAddress, bucketDepth, newBucketID, newBucketDepth)
}

func (m *ZbMap) createNewBucket(filledBucketAddress int64, bucketDepth int32, newBucketID int64, newBucketDepth int32) error {
	m.bucketArray.SetBucketDepth(filledBucketAddress, newBucketDepth)

	newBucketAddress, err := m.bucketArray.AllocateNewBucket(newBucketID, newBucketDepth)
	if err != nil {
		return err
	}

	if err := m.distributeEntries(filledBucketAddress, newBucketAddress, bucketDepth); err != nil {
		return err
	}

	// Redirect every directory slot aliasing the new bucket id.
	mapDiff := int64(1) << newBucketDepth
	for id := newBucketID; id < m.tableSize; id += mapDiff {
		m.hashTable.SetBucketAddress(id, newBucketAddress)
	}
	return nil
}

// distributeEntries walks the filled bucket and its overflow chain in on
// disk order and relocates every block whose key hash has the old depth
// bit set. Relocation compacts the source, so the fill count is refetched
// each round and the offset only advances when a block stays.
func (m *ZbMap) distributeEntries(filledBucketAddress, newBucketAddress int64, bucketDepth int32) error {
	splitMask := uint64(1) << bucketDepth

	for filledBucketAddress != 0 {
		blockOffset := m.bucketArray.FirstBlockOffset()

		for {
			fillCount := m.bucketArray.GetBucketFillCount(filledBucketAddress)
			dataEnd := m.bucketArray.FirstBlockOffset() + int(fillCount)*m.bucketArray.blockLength
			if blockOffset >= dataEnd {
				break
			}

			blockLength := m.bucketArray.GetBlockLength(filledBucketAddress, blockOffset)
			m.bucketArray.ReadKey(m.splitKeyHandler, filledBucketAddress, blockOffset)

			if m.splitKeyHandler.Hash()&splitMask == splitMask {
				if err := m.bucketArray.RelocateBlock(filledBucketAddress, blockOffset, newBucketAddress); err != nil {
					return err
				}
			} else {
				blockOffset += blockLength
			}
		}

		filledBucketAddress = m.bucketArray.GetBucketOverflowPointer(filledBucketAddress)
	}
	return nil
}

// ForEach visits every block, reading its key and value into the given
// handlers before invoking fn. Iteration order is unspecified. It fails
// fast with ErrConcurrentModification when fn mutates the map.
func (m *ZbMap) ForEach(keyHandler KeyHandler, valueHandler ValueHandler, fn func() error) error {
	expectedModCount := m.modCount

	for i := int64(0); i < m.bucketArray.BucketCount(); i++ {
		bucketAddress := m.bucketArray.bucketAddress(i)
		fillCount := m.bucketArray.GetBucketFillCount(bucketAddress)
		blockOffset := m.bucketArray.FirstBlockOffset()

		for visited := int32(0); visited < fillCount; visited++ {
			m.bucketArray.ReadKey(keyHandler, bucketAddress, blockOffset)
			m.bucketArray.ReadValue(valueHandler, bucketAddress, blockOffset)

			if err := fn(); err != nil {
				return err
			}
			if m.modCount != expectedModCount {
				return ErrConcurrentModification
			}

			blockOffset += m.bucketArray.GetBlockLength(bucketAddress, blockOffset)
		}
	}
	return nil
}

// Clear resets the map to its empty state, keeping the backing regions.
func (m *ZbMap) Clear() error {
	if err := m.hashTable.Clear(); err != nil {
		return err
	}
	if err := m.bucketArray.Clear(); err != nil {
		return err
	}
	return m.init()
}

// Flush writes the cached directory and arena back to their stores.
func (m *ZbMap) Flush() error {
	if err := m.hashTable.Flush(); err != nil {
		return err
	}
	return m.bucketArray.Flush()
}

// Close releases the backing stores. It is idempotent. A map must be
// closed before it is dropped; reclaiming one without Close is reported
// through LeakHandler.
func (m *ZbMap) Close() error {
	if !m.isClosed.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(m, nil)

	err := m.hashTable.Close()
	if berr := m.bucketArray.Close(); err == nil {
		err = berr
	}
	return err
}
