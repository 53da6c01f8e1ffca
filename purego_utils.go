//go:build (darwin || linux) && !noffmpeg

// Shared utilities for the purego-loaded engine library.

package velvet

import (
	"os"
	"path/filepath"
	"runtime"
	"unsafe"
)

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for {
		if *(*byte)(unsafe.Add(p, length)) == 0 {
			break
		}
		length++
		if length > 4096 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// goStringFromArray converts a NUL-terminated fixed C char array.
func goStringFromArray(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// findModuleRoot walks up the directory tree from the current working directory
// to find the module root (directory containing go.mod).
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return walkToModule(wd)
}

// findSourceRoot returns the module root of this source file, which works
// from tests and IDE runs regardless of the working directory.
func findSourceRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	return walkToModule(filepath.Dir(file))
}

func walkToModule(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// nativeLibPaths lists the candidate locations of a shim library, highest
// priority first. envPath names a full library path; MEDIA_SDK_LIB_PATH
// names a directory.
func nativeLibPaths(base, envPath string) []string {
	libName := base + ".so"
	if runtime.GOOS == "darwin" {
		libName = base + ".dylib"
	}

	var paths []string

	// Environment variable overrides (highest priority)
	if p := os.Getenv(envPath); p != "" {
		paths = append(paths, p)
	}
	if dir := os.Getenv("MEDIA_SDK_LIB_PATH"); dir != "" {
		paths = append(paths, filepath.Join(dir, libName))
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
			filepath.Join(exeDir, "..", "..", "build", libName),
		)
	}

	// Search relative to source and module roots
	for _, root := range []string{findSourceRoot(), findModuleRoot()} {
		if root != "" {
			paths = append(paths,
				filepath.Join(root, "build", libName),
				filepath.Join(root, "clib", libName),
			)
		}
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/opt/homebrew/lib/"+libName,
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
		)
	}
	return paths
}
