package zbmap

// Bucket layout, host endian:
//
//	off  0: int64  bucketId
//	off  8: int32  depth
//	off 12: int32  fillCount
//	off 16: int64  overflowPointer (0 = none)
//	off 24: blocks
//
// A block is an int32 length header followed by the fixed width key and
// value bytes. The arena itself starts with a small header holding the
// high-water mark, the bucket count and the occupied block count, so the
// first bucket address is never 0.
const (
	bucketIDOffset        = 0
	bucketDepthOffset     = 8
	bucketFillCountOffset = 12
	bucketOverflowOffset  = 16
	bucketDataOffset      = 24

	blockLengthOffset = 0
	blockKeyOffset    = 4

	arenaHighWaterOffset   = 0
	arenaBucketCountOffset = 8
	arenaOccupiedOffset    = 16
	arenaHeaderLength      = 24
)

func align8(n int) int {
	return (n + 7) &^ 7
}

// BucketArray is the append-only arena of fixed size buckets. Bucket
// addresses are byte offsets into the backing store and stay stable for
// the life of the map.
type BucketArray struct {
	store  Store
	buffer *LoadedBuffer

	maxBucketBlockCount int
	maxKeyLength        int
	maxValueLength      int
	blockLength         int
	maxBucketLength     int
}

func NewBucketArray(store Store, minBlockCount, maxKeyLength, maxValueLength int) (*BucketArray, error) {
	blockLength := blockKeyOffset + maxKeyLength + maxValueLength
	maxBucketLength := align8(bucketDataOffset + minBlockCount*blockLength)

	initialCapacity := pageAligned(int64(arenaHeaderLength + maxBucketLength))
	buffer, err := NewLoadedBuffer(store, 0, int(initialCapacity))
	if err != nil {
		return nil, err
	}

	ba := &BucketArray{
		store:               store,
		buffer:              buffer,
		maxBucketBlockCount: minBlockCount,
		maxKeyLength:        maxKeyLength,
		maxValueLength:      maxValueLength,
		blockLength:         blockLength,
		maxBucketLength:     maxBucketLength,
	}

	if ba.highWaterMark() == 0 {
		ba.setHighWaterMark(arenaHeaderLength)
	}
	return ba, nil
}

func (ba *BucketArray) highWaterMark() int64 {
	return getInt64(ba.buffer.Bytes(), arenaHighWaterOffset)
}

func (ba *BucketArray) setHighWaterMark(v int64) {
	putInt64(ba.buffer.Bytes(), arenaHighWaterOffset, v)
}

// BucketCount returns the number of allocated buckets, overflow buckets
// included.
func (ba *BucketArray) BucketCount() int64 {
	return getInt64(ba.buffer.Bytes(), arenaBucketCountOffset)
}

func (ba *BucketArray) setBucketCount(v int64) {
	putInt64(ba.buffer.Bytes(), arenaBucketCountOffset, v)
}

func (ba *BucketArray) occupiedBlocks() int64 {
	return getInt64(ba.buffer.Bytes(), arenaOccupiedOffset)
}

func (ba *BucketArray) setOccupiedBlocks(v int64) {
	putInt64(ba.buffer.Bytes(), arenaOccupiedOffset, v)
}

// bucketAddress returns the address of the i-th allocated bucket.
func (ba *BucketArray) bucketAddress(i int64) int64 {
	return arenaHeaderLength + i*int64(ba.maxBucketLength)
}

// CountOfUsedBytes returns the arena bytes in use, bucket headers
// included.
func (ba *BucketArray) CountOfUsedBytes() int64 {
	return ba.highWaterMark()
}

// LoadFactor is the ratio of occupied block bytes to allocated bucket
// bytes.
func (ba *BucketArray) LoadFactor() float64 {
	allocated := ba.highWaterMark() - arenaHeaderLength
	if allocated == 0 {
		return 0
	}
	return float64(ba.occupiedBlocks()*int64(ba.blockLength)) / float64(allocated)
}

func (ba *BucketArray) ensureCapacity(end int64) error {
	if end <= int64(len(ba.buffer.Bytes())) {
		return nil
	}
	if err := ba.buffer.Write(); err != nil {
		return err
	}
	return ba.buffer.Load(0, int(pageAligned(end)))
}

// AllocateNewBucket appends a zero initialised bucket with the given id
// and depth and returns its address.
func (ba *BucketArray) AllocateNewBucket(id int64, depth int32) (int64, error) {
	address := ba.highWaterMark()
	if err := ba.ensureCapacity(address + int64(ba.maxBucketLength)); err != nil {
		return 0, err
	}

	b := ba.buffer.Bytes()
	bucket := b[address : address+int64(ba.maxBucketLength)]
	for i := range bucket {
		bucket[i] = 0
	}

	putInt64(b, int(address)+bucketIDOffset, id)
	putInt32(b, int(address)+bucketDepthOffset, depth)

	ba.setHighWaterMark(address + int64(ba.maxBucketLength))
	ba.setBucketCount(ba.BucketCount() + 1)
	return address, nil
}

func (ba *BucketArray) GetBucketID(address int64) int64 {
	return getInt64(ba.buffer.Bytes(), int(address)+bucketIDOffset)
}

func (ba *BucketArray) GetBucketDepth(address int64) int32 {
	return getInt32(ba.buffer.Bytes(), int(address)+bucketDepthOffset)
}

func (ba *BucketArray) SetBucketDepth(address int64, depth int32) {
	putInt32(ba.buffer.Bytes(), int(address)+bucketDepthOffset, depth)
}

func (ba *BucketArray) GetBucketFillCount(address int64) int32 {
	return getInt32(ba.buffer.Bytes(), int(address)+bucketFillCountOffset)
}

func (ba *BucketArray) setBucketFillCount(address int64, fill int32) {
	putInt32(ba.buffer.Bytes(), int(address)+bucketFillCountOffset, fill)
}

func (ba *BucketArray) GetBucketOverflowPointer(address int64) int64 {
	return getInt64(ba.buffer.Bytes(), int(address)+bucketOverflowOffset)
}

func (ba *BucketArray) setBucketOverflowPointer(address, overflow int64) {
	putInt64(ba.buffer.Bytes(), int(address)+bucketOverflowOffset, overflow)
}

// FirstBlockOffset returns the offset of the first block within a bucket.
func (ba *BucketArray) FirstBlockOffset() int {
	return bucketDataOffset
}

func (ba *BucketArray) GetBlockLength(address int64, blockOffset int) int {
	return int(getInt32(ba.buffer.Bytes(), int(address)+blockOffset+blockLengthOffset))
}

func (ba *BucketArray) keySlice(address int64, blockOffset int) []byte {
	base := int(address) + blockOffset + blockKeyOffset
	return ba.buffer.Bytes()[base : base+ba.maxKeyLength]
}

func (ba *BucketArray) valueSlice(address int64, blockOffset int) []byte {
	base := int(address) + blockOffset + blockKeyOffset + ba.maxKeyLength
	return ba.buffer.Bytes()[base : base+ba.maxValueLength]
}

// AddBlock appends a block holding the staged key and value at the first
// free offset of the bucket or its overflow chain. It returns false when
// the whole chain is full and the caller has to split.
func (ba *BucketArray) AddBlock(address int64, keyHandler KeyHandler, valueHandler ValueHandler) bool {
	fill := ba.GetBucketFillCount(address)
	for int(fill) >= ba.maxBucketBlockCount {
		next := ba.GetBucketOverflowPointer(address)
		if next == 0 {
			return false
		}
		address = next
		fill = ba.GetBucketFillCount(address)
	}

	blockOffset := bucketDataOffset + int(fill)*ba.blockLength
	putInt32(ba.buffer.Bytes(), int(address)+blockOffset+blockLengthOffset, int32(ba.blockLength))
	keyHandler.WriteTo(ba.keySlice(address, blockOffset))
	valueHandler.WriteTo(ba.valueSlice(address, blockOffset))

	ba.setBucketFillCount(address, fill+1)
	ba.setOccupiedBlocks(ba.occupiedBlocks() + 1)
	return true
}

// UpdateValue overwrites the value bytes of a block in place. The key
// width is fixed, so the value offset is stable.
func (ba *BucketArray) UpdateValue(valueHandler ValueHandler, address int64, blockOffset int) {
	valueHandler.WriteTo(ba.valueSlice(address, blockOffset))
}

func (ba *BucketArray) KeyEquals(keyHandler KeyHandler, address int64, blockOffset int) bool {
	return keyHandler.EqualsKeyAt(ba.keySlice(address, blockOffset))
}

func (ba *BucketArray) ReadKey(keyHandler KeyHandler, address int64, blockOffset int) {
	keyHandler.ReadFrom(ba.keySlice(address, blockOffset))
}

func (ba *BucketArray) ReadValue(valueHandler ValueHandler, address int64, blockOffset int) {
	valueHandler.ReadFrom(ba.valueSlice(address, blockOffset))
}

func (ba *BucketArray) WriteKey(keyHandler KeyHandler, address int64, blockOffset int) {
	keyHandler.WriteTo(ba.keySlice(address, blockOffset))
}

func (ba *BucketArray) WriteValue(valueHandler ValueHandler, address int64, blockOffset int) {
	valueHandler.WriteTo(ba.valueSlice(address, blockOffset))
}

// RemoveBlock removes the block at blockOffset, shifting all trailing
// blocks of the same bucket down by one block length. Overflow chain
// members are not pulled back.
func (ba *BucketArray) RemoveBlock(address int64, blockOffset int) {
	fill := ba.GetBucketFillCount(address)
	dataEnd := bucketDataOffset + int(fill)*ba.blockLength

	b := ba.buffer.Bytes()
	copy(b[int(address)+blockOffset:int(address)+dataEnd-ba.blockLength],
		b[int(address)+blockOffset+ba.blockLength:int(address)+dataEnd])

	tail := b[int(address)+dataEnd-ba.blockLength : int(address)+dataEnd]
	for i := range tail {
		tail[i] = 0
	}

	ba.setBucketFillCount(address, fill-1)
	ba.setOccupiedBlocks(ba.occupiedBlocks() - 1)
}

// RelocateBlock copies the block at (srcAddress, srcOffset) into the next
// free slot of dstAddress, overflowing the destination chain when it is
// full, then compacts the source bucket.
func (ba *BucketArray) RelocateBlock(srcAddress int64, srcOffset int, dstAddress int64) error {
	target := dstAddress
	for int(ba.GetBucketFillCount(target)) >= ba.maxBucketBlockCount {
		next := ba.GetBucketOverflowPointer(target)
		if next == 0 {
			overflow, err := ba.Overflow(target)
			if err != nil {
				return err
			}
			next = overflow
		}
		target = next
	}

	dstFill := ba.GetBucketFillCount(target)
	dstOffset := bucketDataOffset + int(dstFill)*ba.blockLength

	b := ba.buffer.Bytes()
	copy(b[int(target)+dstOffset:int(target)+dstOffset+ba.blockLength],
		b[int(srcAddress)+srcOffset:int(srcAddress)+srcOffset+ba.blockLength])

	ba.setBucketFillCount(target, dstFill+1)
	ba.setOccupiedBlocks(ba.occupiedBlocks() + 1)

	ba.RemoveBlock(srcAddress, srcOffset)
	return nil
}

// Overflow appends a bucket with the same id and depth to the end of the
// chain starting at address and returns its address.
func (ba *BucketArray) Overflow(address int64) (int64, error) {
	last := address
	for {
		next := ba.GetBucketOverflowPointer(last)
		if next == 0 {
			break
		}
		last = next
	}

	id := ba.GetBucketID(last)
	depth := ba.GetBucketDepth(last)

	overflow, err := ba.AllocateNewBucket(id, depth)
	if err != nil {
		return 0, err
	}
	ba.setBucketOverflowPointer(last, overflow)
	return overflow, nil
}

// Clear resets the arena to its empty state without shrinking the backing
// region.
func (ba *BucketArray) Clear() error {
	b := ba.buffer.Bytes()
	for i := range b {
		b[i] = 0
	}
	ba.setHighWaterMark(arenaHeaderLength)
	return ba.buffer.Write()
}

// Flush writes the cached arena back to the store.
func (ba *BucketArray) Flush() error {
	return ba.buffer.Write()
}

func (ba *BucketArray) Close() error {
	if err := ba.buffer.Write(); err != nil {
		ba.store.Close()
		return err
	}
	return ba.store.Close()
}
