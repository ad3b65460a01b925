package zbmap

import "unsafe"

// Fixed width fields use host endianness, read and written directly out of
// the cached byte windows.

func getInt64(b []byte, off int) int64 {
	return *(*int64)(unsafe.Pointer(&b[off]))
}

func putInt64(b []byte, off int, v int64) {
	*(*int64)(unsafe.Pointer(&b[off])) = v
}

func getInt32(b []byte, off int) int32 {
	return *(*int32)(unsafe.Pointer(&b[off]))
}

func putInt32(b []byte, off int, v int32) {
	*(*int32)(unsafe.Pointer(&b[off])) = v
}
