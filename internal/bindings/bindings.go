//go:build !ios && !android && (amd64 || arm64)

// Package bindings handles loading the CUDA driver and cuSPARSE shared
// libraries with purego.
//
// Symbol registration lives in the cuda and cusparse packages; this package
// only finds and opens the libraries, once per process.
package bindings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
	"github.com/obinnaokechukwu/gosparse/envconfig"
	"github.com/obinnaokechukwu/gosparse/internal/platform"
)

// ErrNotLoaded is returned when native functions are called before Load().
var ErrNotLoaded = errors.New("gosparse: CUDA libraries not loaded; call gosparse.Init() first")

// ErrLibraryNotFound is returned when a required library cannot be found.
var ErrLibraryNotFound = errors.New("gosparse: CUDA library not found")

// Library describes one shared library and the versioned names it may carry.
type Library struct {
	Name     string
	Versions []int
}

// CUDA driver and cuSPARSE library names for the current OS.
var (
	DriverLibrary = driverLibrary()
	SparseLibrary = sparseLibrary()
)

func driverLibrary() Library {
	if runtime.GOOS == "windows" {
		return Library{Name: "nvcuda"}
	}
	return Library{Name: "cuda", Versions: []int{1}}
}

func sparseLibrary() Library {
	if runtime.GOOS == "windows" {
		return Library{Name: "cusparse64", Versions: []int{12, 11}}
	}
	return Library{Name: "cusparse", Versions: []int{12, 11}}
}

var (
	libCUDA     uintptr
	libCUSPARSE uintptr

	loaded   bool
	loadOnce sync.Once
	loadErr  error
)

// IsLoaded returns true if the libraries have been successfully loaded.
func IsLoaded() bool {
	return loaded
}

// Load opens the CUDA driver and cuSPARSE libraries.
// It is safe to call multiple times; subsequent calls return the first result.
func Load() error {
	loadOnce.Do(func() {
		loadErr = doLoad()
		if loadErr == nil {
			loaded = true
		}
	})
	return loadErr
}

func doLoad() error {
	var err error

	// The driver first: cuSPARSE resolves driver symbols at load time.
	libCUDA, err = loadLibrary(DriverLibrary)
	if err != nil {
		return fmt.Errorf("loading CUDA driver: %w", err)
	}

	libCUSPARSE, err = loadLibrary(SparseLibrary)
	if err != nil {
		return fmt.Errorf("loading cuSPARSE: %w", err)
	}
	return nil
}

// candidates lists file names to try for lib, most specific first.
func candidates(lib Library) []string {
	names := make([]string, 0, len(lib.Versions)+1)
	for _, ver := range lib.Versions {
		names = append(names, platform.FormatLibraryName(lib.Name, ver))
	}
	return append(names, platform.FormatLibraryName(lib.Name, 0))
}

// loadLibrary attempts to load a library by trying versioned names in every
// search path, then falling back to the system loader.
func loadLibrary(lib Library) (uintptr, error) {
	names := candidates(lib)
	for _, searchPath := range LibrarySearchPaths() {
		for _, name := range names {
			if h, err := tryOpen(filepath.Join(searchPath, name)); err == nil {
				return h, nil
			}
		}
	}

	// Let the system loader resolve it (ldconfig cache, rpath, PATH).
	for _, name := range names {
		if h, err := tryOpen(name); err == nil {
			return h, nil
		}
	}

	return 0, fmt.Errorf("%w: %s", ErrLibraryNotFound, lib.Name)
}

func tryOpen(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

// FindLibrary searches for a library and returns its full path.
// This is useful for diagnostics.
func FindLibrary(lib Library) (string, error) {
	names := candidates(lib)
	for _, searchPath := range LibrarySearchPaths() {
		for _, name := range names {
			fullPath := filepath.Join(searchPath, name)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrLibraryNotFound, lib.Name)
}

// LibrarySearchPaths returns the directories searched for CUDA libraries:
// configured paths first, then the loader path variables, then the usual
// CUDA install locations for the platform.
func LibrarySearchPaths() []string {
	paths := envconfig.LibraryPath()

	switch runtime.GOOS {
	case "linux":
		if ldPath := os.Getenv("LD_LIBRARY_PATH"); ldPath != "" {
			paths = append(paths, filepath.SplitList(ldPath)...)
		}
		paths = append(paths,
			"/usr/local/cuda/lib64",
			"/usr/local/cuda/targets/x86_64-linux/lib",
			"/usr/local/cuda/targets/sbsa-linux/lib",
			"/usr/lib/x86_64-linux-gnu",
			"/usr/lib/aarch64-linux-gnu",
			"/usr/lib/wsl/lib", // WSL2 driver shim
			"/usr/lib64",
			"/usr/local/lib",
			"/usr/lib",
		)

	case "windows":
		if winPath := os.Getenv("PATH"); winPath != "" {
			paths = append(paths, filepath.SplitList(winPath)...)
		}
		if exe, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Dir(exe))
		}
		if sysRoot := os.Getenv("SystemRoot"); sysRoot != "" {
			paths = append(paths, filepath.Join(sysRoot, "System32"))
		}

	case "darwin":
		// No CUDA driver ships for current macOS; kept for old toolkits.
		if dyldPath := os.Getenv("DYLD_LIBRARY_PATH"); dyldPath != "" {
			paths = append(paths, filepath.SplitList(dyldPath)...)
		}
		paths = append(paths, "/usr/local/cuda/lib", "/usr/local/lib")

	case "freebsd":
		if ldPath := os.Getenv("LD_LIBRARY_PATH"); ldPath != "" {
			paths = append(paths, filepath.SplitList(ldPath)...)
		}
		paths = append(paths, "/usr/local/lib", "/usr/lib")
	}

	return paths
}

// LibCUDA returns the CUDA driver library handle.
func LibCUDA() uintptr {
	return libCUDA
}

// LibCUSPARSE returns the cuSPARSE library handle.
func LibCUSPARSE() uintptr {
	return libCUSPARSE
}
