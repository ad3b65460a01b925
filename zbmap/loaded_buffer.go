package zbmap

// LoadedBuffer caches one contiguous region of a Store in memory. The
// window is reloaded lazily when position or length change and written
// back explicitly via Write.
type LoadedBuffer struct {
	store Store

	initialPosition int64
	initialLength   int

	position int64
	buf      []byte
}

func NewLoadedBuffer(store Store, position int64, length int) (*LoadedBuffer, error) {
	b := &LoadedBuffer{
		store:           store,
		initialPosition: position,
		initialLength:   length,
	}
	if err := b.Load(position, length); err != nil {
		return nil, err
	}
	return b, nil
}

// Load reads the window [position, position+length) from the store,
// reusing the backing slice when it is large enough.
func (b *LoadedBuffer) Load(position int64, length int) error {
	b.position = position

	if cap(b.buf) < length {
		b.buf = make([]byte, length)
	}
	b.buf = b.buf[:length]

	_, err := b.store.Read(b.buf, position)
	return err
}

// EnsureLoaded reloads only when the requested window differs from the
// cached one.
func (b *LoadedBuffer) EnsureLoaded(position int64, length int) error {
	if b.position != position || len(b.buf) != length {
		return b.Load(position, length)
	}
	return nil
}

// Bytes exposes the cached window. Mutations become visible to the store
// on the next Write.
func (b *LoadedBuffer) Bytes() []byte {
	return b.buf
}

func (b *LoadedBuffer) Position() int64 {
	return b.position
}

// Write flushes the window back to the store at its current position.
func (b *LoadedBuffer) Write() error {
	_, err := b.store.Write(b.buf, b.position)
	return err
}

// Clear resets the buffer to its initial window.
func (b *LoadedBuffer) Clear() error {
	b.buf = b.buf[:0]
	return b.Load(b.initialPosition, b.initialLength)
}
