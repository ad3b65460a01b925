package zbmap

import (
	"bytes"
	"unsafe"

	"github.com/segmentio/fasthash/fnv1"
	"github.com/segmentio/fasthash/fnv1a"
)

// KeyHandler stages one key and knows how to hash it, compare it against
// stored key bytes and copy it into and out of a block. Handler instances
// are owned by the map and reused across calls; they are the only place
// that interprets raw key memory.
type KeyHandler interface {
	KeyLength() int
	Hash() uint64
	ReadFrom(b []byte)
	WriteTo(b []byte)
	EqualsKeyAt(b []byte) bool
}

// ByteArrayKeyHandler stages fixed width byte array keys. Shorter keys are
// zero padded up to the configured length.
type ByteArrayKeyHandler struct {
	theKey    []byte
	keyLength int
}

func NewByteArrayKeyHandler(keyLength int) *ByteArrayKeyHandler {
	return &ByteArrayKeyHandler{
		theKey:    make([]byte, keyLength),
		keyLength: keyLength,
	}
}

func (h *ByteArrayKeyHandler) SetKey(key []byte) {
	n := copy(h.theKey, key)
	for i := n; i < h.keyLength; i++ {
		h.theKey[i] = 0
	}
}

func (h *ByteArrayKeyHandler) SetKeyFromBuffer(buf []byte, offset, length int) {
	h.SetKey(buf[offset : offset+length])
}

func (h *ByteArrayKeyHandler) KeyLength() int {
	return h.keyLength
}

func (h *ByteArrayKeyHandler) Hash() uint64 {
	return fnv1.HashBytes64(h.theKey)
}

func (h *ByteArrayKeyHandler) ReadFrom(b []byte) {
	copy(h.theKey, b[:h.keyLength])
}

func (h *ByteArrayKeyHandler) WriteTo(b []byte) {
	copy(b, h.theKey)
}

func (h *ByteArrayKeyHandler) EqualsKeyAt(b []byte) bool {
	return bytes.Equal(h.theKey, b[:h.keyLength])
}

// LongKeyHandler stages int64 keys.
type LongKeyHandler struct {
	TheKey int64
}

func NewLongKeyHandler() *LongKeyHandler {
	return &LongKeyHandler{}
}

func (h *LongKeyHandler) KeyLength() int {
	return 8
}

func (h *LongKeyHandler) Hash() uint64 {
	return fnv1a.HashUint64(uint64(h.TheKey))
}

func (h *LongKeyHandler) ReadFrom(b []byte) {
	h.TheKey = *(*int64)(unsafe.Pointer(&b[0]))
}

func (h *LongKeyHandler) WriteTo(b []byte) {
	*(*int64)(unsafe.Pointer(&b[0])) = h.TheKey
}

func (h *LongKeyHandler) EqualsKeyAt(b []byte) bool {
	return h.TheKey == *(*int64)(unsafe.Pointer(&b[0]))
}

// IntKeyHandler stages packed int32 keys.
type IntKeyHandler struct {
	TheKey int32
}

func NewIntKeyHandler() *IntKeyHandler {
	return &IntKeyHandler{}
}

func (h *IntKeyHandler) KeyLength() int {
	return 4
}

func (h *IntKeyHandler) Hash() uint64 {
	return fnv1a.HashUint64(uint64(uint32(h.TheKey)))
}

func (h *IntKeyHandler) ReadFrom(b []byte) {
	h.TheKey = *(*int32)(unsafe.Pointer(&b[0]))
}

func (h *IntKeyHandler) WriteTo(b []byte) {
	*(*int32)(unsafe.Pointer(&b[0])) = h.TheKey
}

func (h *IntKeyHandler) EqualsKeyAt(b []byte) bool {
	return h.TheKey == *(*int32)(unsafe.Pointer(&b[0]))
}
