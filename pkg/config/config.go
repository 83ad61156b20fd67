// Package config loads loxvm's optional tuning file: GC thresholds and
// a few interpreter defaults a host might want to pin without rebuilding
// the binary. Parsed with go-toml, matching the TOML-based configuration
// format used elsewhere in the broader bytecode-VM ecosystem this
// project draws on.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// VM holds the tunables that vm.VM.ApplyConfig applies to a freshly
// constructed VM before it runs any source.
type VM struct {
	// StressGC forces a collection before every allocation. Useful for
	// shaking out GC bugs; catastrophic for performance.
	StressGC bool `toml:"stress_gc"`

	// InitialHeapBytes overrides the collector's starting threshold
	// before the first collection runs. Zero means use the built-in
	// default.
	InitialHeapBytes uint64 `toml:"initial_heap_bytes"`

	// HeapGrowFactor overrides the multiplier applied to bytesAllocated
	// after a collection to compute the next threshold. Zero means use
	// the built-in default.
	HeapGrowFactor float64 `toml:"heap_grow_factor"`
}

// Config is the top-level document shape of a loxvm.toml file.
type Config struct {
	VM VM `toml:"vm"`
}

// Default returns the configuration loxvm runs with when no config file
// is given.
func Default() Config {
	return Config{}
}

// Load reads and parses a TOML config file from path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
