package zbmap

import "fmt"

// Bytes2LongZbMap maps fixed width byte array keys to int64 values.
type Bytes2LongZbMap struct {
	*ZbMap
	keyHandler   *ByteArrayKeyHandler
	valueHandler *LongValueHandler
}

func NewBytes2LongZbMap(maxKeyLength int) (*Bytes2LongZbMap, error) {
	return NewBytes2LongZbMapWithConfig(maxKeyLength, Config{})
}

func NewBytes2LongZbMapWithConfig(maxKeyLength int, cfg Config) (*Bytes2LongZbMap, error) {
	valueHandler := NewLongValueHandler()
	core, err := NewZbMap(func() KeyHandler {
		return NewByteArrayKeyHandler(maxKeyLength)
	}, valueHandler, cfg)
	if err != nil {
		return nil, err
	}
	return &Bytes2LongZbMap{
		ZbMap:        core,
		keyHandler:   core.KeyHandler().(*ByteArrayKeyHandler),
		valueHandler: valueHandler,
	}, nil
}

func (m *Bytes2LongZbMap) checkKeyLength(length int) error {
	if length > m.keyHandler.KeyLength() {
		return fmt.Errorf("%w: expected at most %d bytes, got %d",
			ErrKeyTooLong, m.keyHandler.KeyLength(), length)
	}
	return nil
}

// Put maps key to value and reports whether an existing value was
// replaced.
func (m *Bytes2LongZbMap) Put(key []byte, value int64) (bool, error) {
	if err := m.checkKeyLength(len(key)); err != nil {
		return false, err
	}
	m.keyHandler.SetKey(key)
	m.valueHandler.TheValue = value
	return m.ZbMap.Put()
}

// Get returns the value mapped to key and whether the key is present.
func (m *Bytes2LongZbMap) Get(key []byte) (int64, bool, error) {
	if err := m.checkKeyLength(len(key)); err != nil {
		return 0, false, err
	}
	m.keyHandler.SetKey(key)
	found := m.ZbMap.Get()
	return m.valueHandler.TheValue, found, nil
}

// Remove unmaps key, returning the prior value and whether the key was
// present.
func (m *Bytes2LongZbMap) Remove(key []byte) (int64, bool, error) {
	if err := m.checkKeyLength(len(key)); err != nil {
		return 0, false, err
	}
	m.keyHandler.SetKey(key)
	found := m.ZbMap.Remove()
	return m.valueHandler.TheValue, found, nil
}

// ForEach visits every entry. The key slice is only valid during the
// callback.
func (m *Bytes2LongZbMap) ForEach(fn func(key []byte, value int64) error) error {
	keyHandler := NewByteArrayKeyHandler(m.keyHandler.KeyLength())
	valueHandler := NewLongValueHandler()
	return m.ZbMap.ForEach(keyHandler, valueHandler, func() error {
		return fn(keyHandler.theKey, valueHandler.TheValue)
	})
}
