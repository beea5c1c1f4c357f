package call

import (
	"fmt"
	"sort"
	"sync"
)

// ConnectionFactory builds a Connection from one helper-account session
// credential. name is a short label used in logs.
type ConnectionFactory func(name, session string) (Connection, error)

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]ConnectionFactory)
)

// RegisterEngine makes a call-signaling backend available under the given
// name, in the manner of database/sql drivers. Backends register themselves
// from an init function; the daemon picks one by the CALL_ENGINE setting.
func RegisterEngine(name string, factory ConnectionFactory) {
	enginesMu.Lock()
	defer enginesMu.Unlock()

	if factory == nil {
		panic("call: RegisterEngine with nil factory")
	}
	if _, dup := engines[name]; dup {
		panic("call: RegisterEngine called twice for engine " + name)
	}
	engines[name] = factory
}

// Engine returns the registered factory for name.
func Engine(name string) (ConnectionFactory, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()

	factory, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("call: unknown engine %q (registered: %v)", name, engineNames())
	}
	return factory, nil
}

// Engines lists the registered engine names.
func Engines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	return engineNames()
}

func engineNames() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
