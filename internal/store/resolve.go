package store

import (
	"fmt"

	"github.com/reqon/reqon/internal/mission"
)

// Open builds the Adapter a StoreDef names. Only memory and file are
// built in; sql/nosql kinds are pluggable extension points a host
// binary supplies in the factories map passed to Open.
func Open(def *mission.StoreDef, factories map[mission.StoreKind]Factory) (Adapter, error) {
	switch def.Kind {
	case mission.StoreMemory:
		return NewMemory(), nil
	case mission.StoreFile:
		return OpenFile(def.Identifier)
	default:
		if factories != nil {
			if factory, ok := factories[def.Kind]; ok {
				return factory(def)
			}
		}
		return nil, fmt.Errorf("store: no adapter registered for kind %q (store %q)", def.Kind, def.Name)
	}
}

// Factory constructs an Adapter for a StoreDef of a pluggable kind.
type Factory func(def *mission.StoreDef) (Adapter, error)
