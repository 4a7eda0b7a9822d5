//go:build !android && (amd64 || arm64)

package platform

import "golang.org/x/sys/unix"

const threadIDSupported = true

func threadID() uint64 {
	return uint64(unix.Gettid())
}
