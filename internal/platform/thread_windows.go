//go:build amd64 || arm64

package platform

import "golang.org/x/sys/windows"

const threadIDSupported = true

func threadID() uint64 {
	return uint64(windows.GetCurrentThreadId())
}
