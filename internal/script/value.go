package script

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// mapRefType is the runtime type descriptor for map values, derived from
// an actual map so it always matches the library's own representation.
var mapRefType = types.DefaultTypeAdapter.NativeToValue(map[string]interface{}{}).Type()

// stateVal exposes a StateAccess to expressions as a map-like value.
// Reads go through the capability, so parallel workers fail with the
// descriptive sentinel error instead of seeing stale data.
type stateVal struct {
	access StateAccess
}

var (
	_ ref.Val          = stateVal{}
	_ traits.Indexer   = stateVal{}
	_ traits.Container = stateVal{}
	_ traits.Sizer     = stateVal{}
)

func (s stateVal) ConvertToNative(typeDesc reflect.Type) (interface{}, error) {
	snap, err := s.access.Snapshot()
	if err != nil {
		return nil, err
	}
	if typeDesc.Kind() == reflect.Map || typeDesc.Kind() == reflect.Interface {
		return snap, nil
	}
	return nil, fmt.Errorf("unsupported conversion of state to %v", typeDesc)
}

func (s stateVal) ConvertToType(t ref.Type) ref.Val {
	if t == types.TypeType {
		if tv, ok := mapRefType.(ref.Val); ok {
			return tv
		}
	}
	return types.NewErr("unsupported conversion of state to %s", t.TypeName())
}

func (s stateVal) Equal(other ref.Val) ref.Val {
	return types.False
}

func (s stateVal) Type() ref.Type {
	return mapRefType
}

func (s stateVal) Value() interface{} {
	snap, err := s.access.Snapshot()
	if err != nil {
		return map[string]interface{}{}
	}
	return snap
}

// Get implements state["key"].
func (s stateVal) Get(index ref.Val) ref.Val {
	key, ok := index.Value().(string)
	if !ok {
		return types.NewErr("state keys are strings, got %s", index.Type().TypeName())
	}
	v, found, err := s.access.Get(key)
	if err != nil {
		return types.WrapErr(err)
	}
	if !found {
		return types.NewErr("no such key: %s", key)
	}
	return types.DefaultTypeAdapter.NativeToValue(v)
}

// Contains implements "key" in state.
func (s stateVal) Contains(value ref.Val) ref.Val {
	key, ok := value.Value().(string)
	if !ok {
		return types.NewErr("state keys are strings, got %s", value.Type().TypeName())
	}
	_, found, err := s.access.Get(key)
	if err != nil {
		return types.WrapErr(err)
	}
	return types.Bool(found)
}

// Size implements size(state).
func (s stateVal) Size() ref.Val {
	n, err := s.access.Len()
	if err != nil {
		return types.WrapErr(err)
	}
	return types.Int(n)
}

// nativeValue converts an expression result into plain Go values
// (bool, int64, uint64, float64, string, []byte, time.Time,
// time.Duration, []interface{}, map[string]interface{}, nil).
func nativeValue(v ref.Val) interface{} {
	switch t := v.(type) {
	case types.Bool:
		return bool(t)
	case types.Int:
		return int64(t)
	case types.Uint:
		return uint64(t)
	case types.Double:
		return float64(t)
	case types.String:
		return string(t)
	case types.Bytes:
		return []byte(t)
	case types.Duration:
		return t.Duration
	case types.Timestamp:
		return t.Time
	case types.Null:
		return nil
	}
	switch t := v.(type) {
	case traits.Mapper:
		out := make(map[string]interface{})
		it := t.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			out[fmt.Sprintf("%v", k.Value())] = nativeValue(t.Get(k))
		}
		return out
	case traits.Lister:
		var out []interface{}
		it := t.Iterator()
		for it.HasNext() == types.True {
			out = append(out, nativeValue(it.Next()))
		}
		return out
	}
	return v.Value()
}
