package zbmap

import "errors"

var (
	// ErrMapFull is returned by Put when the hash table has reached its
	// maximum size and the filled bucket may not overflow any further.
	ErrMapFull = errors.New("zbmap: map is full, hash table reached max size")

	// ErrKeyTooLong is returned when a caller supplies a key longer than
	// the key length the map was created with. The map is left unchanged.
	ErrKeyTooLong = errors.New("zbmap: key exceeds configured max key length")

	// ErrCapacityOverflow is returned when a hash table resize would
	// overflow the addressable byte range.
	ErrCapacityOverflow = errors.New("zbmap: hash table capacity overflow")

	// ErrConcurrentModification is returned by ForEach when the map is
	// structurally modified during iteration.
	ErrConcurrentModification = errors.New("zbmap: map modified during iteration")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("zbmap: store is closed")
)
