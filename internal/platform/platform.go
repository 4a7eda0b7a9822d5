//go:build !ios && !android && (amd64 || arm64)

// Package platform provides platform detection for gosparse: shared library
// naming for the CUDA driver and libraries, and the identity of the OS thread
// the caller is running on.
package platform

import (
	"fmt"
	"runtime"
	"unsafe"
)

// Is64Bit indicates whether the platform is 64-bit.
// purego, and the CUDA libraries themselves, are 64-bit only.
const Is64Bit = unsafe.Sizeof(uintptr(0)) == 8

// LibraryExtension is the file extension for shared libraries on this platform.
var LibraryExtension string

// LibraryPrefix is the prefix for shared library names on this platform.
var LibraryPrefix string

func init() {
	switch runtime.GOOS {
	case "darwin":
		LibraryExtension = ".dylib"
		LibraryPrefix = "lib"
	case "windows":
		LibraryExtension = ".dll"
		LibraryPrefix = ""
	default: // linux, freebsd, etc.
		LibraryExtension = ".so"
		LibraryPrefix = "lib"
	}
}

// FormatLibraryName returns the platform-specific library filename.
// If version is 0, returns the unversioned library name.
//
// Examples:
//   - Linux:   FormatLibraryName("cusparse", 12)   -> "libcusparse.so.12"
//   - macOS:   FormatLibraryName("cusparse", 12)   -> "libcusparse.12.dylib"
//   - Windows: FormatLibraryName("cusparse64", 12) -> "cusparse64_12.dll"
func FormatLibraryName(name string, version int) string {
	switch runtime.GOOS {
	case "darwin":
		if version > 0 {
			return fmt.Sprintf("%s%s.%d%s", LibraryPrefix, name, version, LibraryExtension)
		}
		return fmt.Sprintf("%s%s%s", LibraryPrefix, name, LibraryExtension)
	case "windows":
		// CUDA ships versioned DLLs as name_N.dll
		if version > 0 {
			return fmt.Sprintf("%s%s_%d%s", LibraryPrefix, name, version, LibraryExtension)
		}
		return fmt.Sprintf("%s%s%s", LibraryPrefix, name, LibraryExtension)
	default: // linux, freebsd
		if version > 0 {
			return fmt.Sprintf("%s%s%s.%d", LibraryPrefix, name, LibraryExtension, version)
		}
		return fmt.Sprintf("%s%s%s", LibraryPrefix, name, LibraryExtension)
	}
}

// ThreadID returns an identifier of the OS thread the caller runs on, or 0
// if the platform does not expose one (see ThreadIDSupported).
//
// The value is only meaningful while the calling goroutine is locked to its
// thread with runtime.LockOSThread.
func ThreadID() uint64 {
	return threadID()
}

// ThreadIDSupported reports whether ThreadID returns real thread identities.
func ThreadIDSupported() bool {
	return threadIDSupported
}

// GOOS returns the current operating system.
func GOOS() string {
	return runtime.GOOS
}

// GOARCH returns the current architecture.
func GOARCH() string {
	return runtime.GOARCH
}
