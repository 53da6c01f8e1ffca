package velvet

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// EngineID identifies a media engine implementation.
type EngineID uint8

const (
	EngineAuto    EngineID = iota // Let library choose best available
	EngineBuiltin                 // Pure Go: mjpeg/rawvideo in mp4/mov
	EngineFFmpeg                  // libavformat/libavcodec via libmedia_av
	engineCount
)

// engineMeta contains static metadata about an engine.
type engineMeta struct {
	Name   string
	Native bool // needs a native library at runtime
}

// Static metadata table - indexed by EngineID.
var engineInfo = [engineCount]engineMeta{
	EngineAuto:    {"auto", false},
	EngineBuiltin: {"builtin", false},
	EngineFFmpeg:  {"ffmpeg", true},
}

// Runtime availability - set by engine implementations once loaded.
var engineAvailable [engineCount]atomic.Bool

// engineFactories holds the loaders registered by engine implementations.
// A loader is called at most once; its result is shared process-wide.
var (
	engineFactories [engineCount]func() (Engine, error)
	engineOnce      [engineCount]sync.Once
	engineInstances [engineCount]Engine
	engineErrs      [engineCount]error
)

// registerEngine installs the loader for an engine (called from init).
func registerEngine(id EngineID, load func() (Engine, error)) {
	if id == EngineAuto || id >= engineCount {
		panic(fmt.Sprintf("velvet: cannot register engine %d", id))
	}
	engineFactories[id] = load
}

// String returns the engine name.
func (id EngineID) String() string {
	if id >= engineCount {
		return "unknown"
	}
	return engineInfo[id].Name
}

// Native reports whether the engine depends on a native library.
func (id EngineID) Native() bool {
	if id >= engineCount {
		return false
	}
	return engineInfo[id].Native
}

// Available loads the engine if needed and reports whether it is usable.
func (id EngineID) Available() bool {
	if id == EngineAuto {
		return true
	}
	if id >= engineCount {
		return false
	}
	_, err := LoadEngine(id)
	return err == nil && engineAvailable[id].Load()
}

// ParseEngineID maps an engine name to its id.
func ParseEngineID(name string) (EngineID, error) {
	if name == "" {
		return EngineAuto, nil
	}
	for id := EngineID(0); id < engineCount; id++ {
		if engineInfo[id].Name == name {
			return id, nil
		}
	}
	return EngineAuto, fmt.Errorf("%w: unknown engine %q", ErrInvalidConfig, name)
}

// LoadEngine returns the process-wide instance of an engine, loading it on
// first use. EngineAuto resolves through DefaultEngine.
func LoadEngine(id EngineID) (Engine, error) {
	if id == EngineAuto {
		return DefaultEngine(), nil
	}
	if id >= engineCount || engineFactories[id] == nil {
		return nil, fmt.Errorf("%w: %s", ErrEngineUnavailable, id)
	}
	engineOnce[id].Do(func() {
		engineInstances[id], engineErrs[id] = engineFactories[id]()
		if engineErrs[id] == nil {
			engineAvailable[id].Store(true)
		}
	})
	if engineErrs[id] != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEngineUnavailable, id, engineErrs[id])
	}
	return engineInstances[id], nil
}

// DefaultEngine returns the native engine when it loads, else the builtin one.
func DefaultEngine() Engine {
	if e, err := LoadEngine(EngineFFmpeg); err == nil {
		return e
	}
	e, err := LoadEngine(EngineBuiltin)
	if err != nil {
		panic(err) // builtin engine registers unconditionally
	}
	return e
}

// AvailableEngines lists the engines that load on this system.
func AvailableEngines() []EngineID {
	var ids []EngineID
	for id := EngineBuiltin; id < engineCount; id++ {
		if id.Available() {
			ids = append(ids, id)
		}
	}
	return ids
}

// resolveEngine picks the engine for a builder: an explicit instance wins,
// then an explicit id, then DefaultEngine.
func resolveEngine(e Engine, id EngineID) (Engine, error) {
	if e != nil {
		return e, nil
	}
	return LoadEngine(id)
}
