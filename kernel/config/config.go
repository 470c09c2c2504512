// Package config parses the kernel command line supplied by the bootloader
// into a process-wide Parameters singleton.
package config

import (
	"strings"
	"sync"

	"github.com/zdivelbiss/vellum/kernel/kfmt"
)

// Parameters holds the kernel's boot-time configuration, parsed once from the
// bootloader-supplied command line.
type Parameters struct {
	// UseMultiprocessing controls whether secondary hardware threads are
	// spawned during init orchestration.
	UseMultiprocessing bool

	// KeepSymbolInfo controls whether the kernel symbol table is retained
	// for use by panic diagnostics.
	KeepSymbolInfo bool

	// UseLowMemory selects conservative allocation behavior suited to
	// memory-constrained hardware.
	UseLowMemory bool
}

func defaultParameters() Parameters {
	return Parameters{
		UseMultiprocessing: true,
		KeepSymbolInfo:     true,
		UseLowMemory:       false,
	}
}

var (
	once     sync.Once
	params   Parameters
	didParse bool
)

// Parse parses the whitespace-separated command-line string cmdline exactly
// once; subsequent calls are no-ops. Unrecognized tokens are logged and
// ignored.
func Parse(cmdline string) {
	once.Do(func() {
		params = defaultParameters()
		didParse = true

		cmdline = strings.TrimSpace(cmdline)
		if cmdline == "" {
			return
		}

		for _, tok := range strings.Fields(cmdline) {
			switch tok {
			case "--nomp":
				params.UseMultiprocessing = false
			case "--keep-symbols":
				params.KeepSymbolInfo = true
			case "--lomem":
				params.UseLowMemory = true
			default:
				kfmt.Printf("[config] unknown command line argument: %s\n", tok)
			}
		}
	})
}

// Get returns the parsed Parameters. Parse must have been called first; if it
// has not, the default Parameters are returned rather than panicking, since
// config is read from many unrelated code paths that should not need to
// reason about init ordering.
func Get() Parameters {
	if !didParse {
		return defaultParameters()
	}
	return params
}

// UseMultiprocessing reports whether secondary hardware threads should be
// spawned.
func UseMultiprocessing() bool { return Get().UseMultiprocessing }

// KeepSymbolInfo reports whether the kernel symbol table should be retained.
func KeepSymbolInfo() bool { return Get().KeepSymbolInfo }

// UseLowMemory reports whether low-memory allocation behavior is requested.
func UseLowMemory() bool { return Get().UseLowMemory }

// resetForTest clears the parsed singleton so tests can exercise Parse with
// multiple command lines. Only called from this package's tests.
func resetForTest() {
	once = sync.Once{}
	params = Parameters{}
	didParse = false
}
