package zbmap

// Long2LongZbMap maps int64 keys to int64 values.
type Long2LongZbMap struct {
	*ZbMap
	keyHandler   *LongKeyHandler
	valueHandler *LongValueHandler
}

func NewLong2LongZbMap() (*Long2LongZbMap, error) {
	return NewLong2LongZbMapWithConfig(Config{})
}

func NewLong2LongZbMapWithConfig(cfg Config) (*Long2LongZbMap, error) {
	valueHandler := NewLongValueHandler()
	core, err := NewZbMap(func() KeyHandler {
		return NewLongKeyHandler()
	}, valueHandler, cfg)
	if err != nil {
		return nil, err
	}
	return &Long2LongZbMap{
		ZbMap:        core,
		keyHandler:   core.KeyHandler().(*LongKeyHandler),
		valueHandler: valueHandler,
	}, nil
}

func (m *Long2LongZbMap) Put(key, value int64) (bool, error) {
	m.keyHandler.TheKey = key
	m.valueHandler.TheValue = value
	return m.ZbMap.Put()
}

func (m *Long2LongZbMap) Get(key int64) (int64, bool) {
	m.keyHandler.TheKey = key
	found := m.ZbMap.Get()
	return m.valueHandler.TheValue, found
}

func (m *Long2LongZbMap) Remove(key int64) (int64, bool) {
	m.keyHandler.TheKey = key
	found := m.ZbMap.Remove()
	return m.valueHandler.TheValue, found
}

func (m *Long2LongZbMap) ForEach(fn func(key, value int64) error) error {
	keyHandler := NewLongKeyHandler()
	valueHandler := NewLongValueHandler()
	return m.ZbMap.ForEach(keyHandler, valueHandler, func() error {
		return fn(keyHandler.TheKey, valueHandler.TheValue)
	})
}
