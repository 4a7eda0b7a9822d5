// Package envconfig reads gosparse configuration from the environment.
//
// Every setting has a getter; getters read the environment on each call so
// tests can use t.Setenv.
package envconfig

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Task back-end names accepted by GOSPARSE_TASK_BACKEND.
const (
	BackendHostTask        = "host_task"
	BackendCustomOperation = "custom_operation"
)

var (
	// Debug enables debug logging in the gosparse CLI.
	Debug = Bool("GOSPARSE_DEBUG")

	// TaskBackendRaw is the unvalidated value of GOSPARSE_TASK_BACKEND.
	TaskBackendRaw = String("GOSPARSE_TASK_BACKEND")

	// CUDAPath is the CUDA toolkit root (CUDA_PATH).
	CUDAPath = String("CUDA_PATH")

	// Workers is the worker count of the in-process runtime.
	// Defaults to GOMAXPROCS.
	Workers = func() uint {
		return Uint("GOSPARSE_WORKERS", uint(runtime.GOMAXPROCS(0)))()
	}
)

// Var returns an environment variable stripped of surrounding whitespace and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// TaskBackend returns the configured scheduling back-end.
// Unknown values fall back to BackendHostTask, which is the conservative
// choice: it always drains the native stream before the task completes.
func TaskBackend() string {
	switch s := strings.ToLower(TaskBackendRaw()); s {
	case "":
		return BackendHostTask
	case BackendHostTask, BackendCustomOperation:
		return s
	default:
		zap.L().Warn("invalid GOSPARSE_TASK_BACKEND, using default",
			zap.String("value", s),
			zap.String("default", BackendHostTask))
		return BackendHostTask
	}
}

// LibraryPath returns extra directories to search for CUDA libraries, in
// priority order: GOSPARSE_LIBRARY_PATH entries, then CUDA_PATH subdirectories.
func LibraryPath() []string {
	var paths []string
	if s := Var("GOSPARSE_LIBRARY_PATH"); s != "" {
		for _, p := range filepath.SplitList(s) {
			if p != "" {
				paths = append(paths, p)
			}
		}
	}
	if root := CUDAPath(); root != "" {
		if runtime.GOOS == "windows" {
			paths = append(paths, filepath.Join(root, "bin"))
		} else {
			paths = append(paths, filepath.Join(root, "lib64"), filepath.Join(root, "lib"))
		}
	}
	return paths
}

// Bool returns a getter for a boolean variable. Unparseable non-empty values
// count as true, so GOSPARSE_DEBUG=yes behaves as expected.
func Bool(key string) func() bool {
	return func() bool {
		if s := Var(key); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// String returns a getter for a string variable.
func String(key string) func() string {
	return func() string {
		return Var(key)
	}
}

// Uint returns a getter for an unsigned variable with a default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil || n == 0 {
				zap.L().Warn("invalid environment variable, using default",
					zap.String("key", key),
					zap.String("value", s),
					zap.Uint("default", defaultValue))
				return defaultValue
			}
			return uint(n)
		}
		return defaultValue
	}
}

// EnvVar describes one configuration variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every configuration variable with its effective value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"GOSPARSE_DEBUG":        {"GOSPARSE_DEBUG", Debug(), "Show additional debug information (e.g. GOSPARSE_DEBUG=1)"},
		"GOSPARSE_TASK_BACKEND": {"GOSPARSE_TASK_BACKEND", TaskBackend(), "Task scheduling back-end: host_task or custom_operation"},
		"GOSPARSE_LIBRARY_PATH": {"GOSPARSE_LIBRARY_PATH", LibraryPath(), "Extra directories searched for libcuda and libcusparse"},
		"GOSPARSE_WORKERS":      {"GOSPARSE_WORKERS", Workers(), "Worker threads of the in-process runtime (default: GOMAXPROCS)"},
		"CUDA_PATH":             {"CUDA_PATH", CUDAPath(), "CUDA toolkit root"},
	}
}
