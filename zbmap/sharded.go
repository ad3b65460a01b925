package zbmap

import (
	"sync"

	"github.com/segmentio/fasthash/fnv1a"
)

// ShardedLong2BytesZbMap partitions keys over a fixed set of maps, each
// guarded by its own mutex. This is the only concurrent entry point;
// every underlying map stays single writer behind its shard lock.
type ShardedLong2BytesZbMap struct {
	shards  []*Long2BytesZbMap
	mutexes []sync.Mutex
}

func NewShardedLong2BytesZbMap(shardCount, maxValueLength int) (*ShardedLong2BytesZbMap, error) {
	s := &ShardedLong2BytesZbMap{
		shards:  make([]*Long2BytesZbMap, shardCount),
		mutexes: make([]sync.Mutex, shardCount),
	}
	for i := 0; i < shardCount; i++ {
		shard, err := NewLong2BytesZbMap(maxValueLength)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.shards[i] = shard
	}
	return s, nil
}

func (s *ShardedLong2BytesZbMap) shardIndex(key int64) int {
	return int(fnv1a.HashUint64(uint64(key)) % uint64(len(s.shards)))
}

func (s *ShardedLong2BytesZbMap) Put(key int64, value []byte) (bool, error) {
	i := s.shardIndex(key)
	s.mutexes[i].Lock()
	defer s.mutexes[i].Unlock()
	return s.shards[i].Put(key, value)
}

// Get copies the value out under the shard lock so the result stays valid
// after the lock is released.
func (s *ShardedLong2BytesZbMap) Get(key int64) ([]byte, bool) {
	i := s.shardIndex(key)
	s.mutexes[i].Lock()
	defer s.mutexes[i].Unlock()

	value, found := s.shards[i].Get(key)
	if !found {
		return nil, false
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true
}

func (s *ShardedLong2BytesZbMap) Remove(key int64) ([]byte, bool) {
	i := s.shardIndex(key)
	s.mutexes[i].Lock()
	defer s.mutexes[i].Unlock()

	value, found := s.shards[i].Remove(key)
	if !found {
		return nil, false
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true
}

func (s *ShardedLong2BytesZbMap) Close() error {
	var err error
	for i, shard := range s.shards {
		if shard == nil {
			continue
		}
		s.mutexes[i].Lock()
		if cerr := shard.Close(); err == nil {
			err = cerr
		}
		s.mutexes[i].Unlock()
	}
	return err
}
