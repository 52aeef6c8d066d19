package builder

import (
	"fmt"
	"reflect"
	"sync"
)

// TypeAliasRegistry maps short names ("User", "map", "int") used in mapper
// XML attributes to a reflect.Type, generalizing MyBatis' TypeAliasRegistry.
// Go has no classpath to scan, so aliases are registered explicitly by the
// application wiring its mappers (typically one RegisterAlias("User",
// User{}) call per domain type plus the built-in primitives below).
type TypeAliasRegistry struct {
	mu      sync.RWMutex
	aliases map[string]reflect.Type
}

func NewTypeAliasRegistry() *TypeAliasRegistry {
	r := &TypeAliasRegistry{aliases: map[string]reflect.Type{}}
	for name, sample := range map[string]interface{}{
		"string": "", "int": int(0), "int8": int8(0), "int16": int16(0),
		"int32": int32(0), "int64": int64(0), "uint": uint(0), "uint64": uint64(0),
		"float32": float32(0), "float64": float64(0), "bool": false,
		"map": map[string]interface{}{},
	} {
		r.aliases[name] = reflect.TypeOf(sample)
	}
	return r
}

// RegisterAlias associates alias with sample's type.
func (r *TypeAliasRegistry) RegisterAlias(alias string, sample interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = reflect.TypeOf(sample)
}

// Resolve implements TypeResolver.
func (r *TypeAliasRegistry) Resolve(alias string) (reflect.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.aliases[alias]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("builder: unregistered type alias %q", alias)
}
