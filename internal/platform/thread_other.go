//go:build !linux && !windows && !darwin && !ios && !android && (amd64 || arm64)

package platform

const threadIDSupported = false

func threadID() uint64 {
	return 0
}
