package zbmap

import "unsafe"

// ValueHandler stages one value and copies it into and out of a block.
type ValueHandler interface {
	ValueLength() int
	ReadFrom(b []byte)
	WriteTo(b []byte)
}

// ByteArrayValueHandler stages fixed width byte array values, zero padded
// up to the configured length.
type ByteArrayValueHandler struct {
	TheValue    []byte
	valueLength int
}

func NewByteArrayValueHandler(valueLength int) *ByteArrayValueHandler {
	return &ByteArrayValueHandler{
		TheValue:    make([]byte, valueLength),
		valueLength: valueLength,
	}
}

func (h *ByteArrayValueHandler) SetValue(value []byte) {
	n := copy(h.TheValue, value)
	for i := n; i < h.valueLength; i++ {
		h.TheValue[i] = 0
	}
}

func (h *ByteArrayValueHandler) ValueLength() int {
	return h.valueLength
}

func (h *ByteArrayValueHandler) ReadFrom(b []byte) {
	copy(h.TheValue, b[:h.valueLength])
}

func (h *ByteArrayValueHandler) WriteTo(b []byte) {
	copy(b, h.TheValue)
}

// LongValueHandler stages int64 values.
type LongValueHandler struct {
	TheValue int64
}

func NewLongValueHandler() *LongValueHandler {
	return &LongValueHandler{}
}

func (h *LongValueHandler) ValueLength() int {
	return 8
}

func (h *LongValueHandler) ReadFrom(b []byte) {
	h.TheValue = *(*int64)(unsafe.Pointer(&b[0]))
}

func (h *LongValueHandler) WriteTo(b []byte) {
	*(*int64)(unsafe.Pointer(&b[0])) = h.TheValue
}
