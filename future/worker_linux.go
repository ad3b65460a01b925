//go:build linux
// +build linux

package future

import "golang.org/x/sys/unix"

const workerDetectionSupported = true

func currentThreadID() int {
	return unix.Gettid()
}
