//go:build !linux
// +build !linux

package zbmap

func applyFadvise(fd int, size int64) {
}

func applyMadvise(data []byte) {
}
