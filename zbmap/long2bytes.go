package zbmap

// Long2BytesZbMap maps int64 keys to fixed width byte array values.
type Long2BytesZbMap struct {
	*ZbMap
	keyHandler   *LongKeyHandler
	valueHandler *ByteArrayValueHandler
}

func NewLong2BytesZbMap(maxValueLength int) (*Long2BytesZbMap, error) {
	return NewLong2BytesZbMapWithConfig(maxValueLength, Config{})
}

func NewLong2BytesZbMapWithConfig(maxValueLength int, cfg Config) (*Long2BytesZbMap, error) {
	valueHandler := NewByteArrayValueHandler(maxValueLength)
	core, err := NewZbMap(func() KeyHandler {
		return NewLongKeyHandler()
	}, valueHandler, cfg)
	if err != nil {
		return nil, err
	}
	return &Long2BytesZbMap{
		ZbMap:        core,
		keyHandler:   core.KeyHandler().(*LongKeyHandler),
		valueHandler: valueHandler,
	}, nil
}

func (m *Long2BytesZbMap) Put(key int64, value []byte) (bool, error) {
	m.keyHandler.TheKey = key
	m.valueHandler.SetValue(value)
	return m.ZbMap.Put()
}

// Get returns the fixed width value mapped to key. The returned slice is
// the handler's staging buffer and is only valid until the next call.
func (m *Long2BytesZbMap) Get(key int64) ([]byte, bool) {
	m.keyHandler.TheKey = key
	found := m.ZbMap.Get()
	if !found {
		return nil, false
	}
	return m.valueHandler.TheValue, true
}

func (m *Long2BytesZbMap) Remove(key int64) ([]byte, bool) {
	m.keyHandler.TheKey = key
	found := m.ZbMap.Remove()
	if !found {
		return nil, false
	}
	return m.valueHandler.TheValue, true
}

func (m *Long2BytesZbMap) ForEach(fn func(key int64, value []byte) error) error {
	keyHandler := NewLongKeyHandler()
	valueHandler := NewByteArrayValueHandler(m.valueHandler.ValueLength())
	return m.ZbMap.ForEach(keyHandler, valueHandler, func() error {
		return fn(keyHandler.TheKey, valueHandler.TheValue)
	})
}
