package script

import (
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/overloads"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/logsieve/logsieve/internal/match"
	"github.com/logsieve/logsieve/internal/model"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// envOptions declares the script environment: the bound variables plus
// every builtin function. The matches declaration reuses the standard
// overload IDs so the regex-cached binding replaces the stock one for
// both the global and member call forms.
func (rt *Runtime) envOptions() []cel.EnvOption {
	strStr := []*cel.Type{cel.StringType, cel.StringType}
	strDyn := []*cel.Type{cel.StringType, cel.DynType}
	mapStrDyn := cel.MapType(cel.StringType, cel.DynType)

	return []cel.EnvOption{
		cel.Variable("e", mapStrDyn),
		cel.Variable("line", cel.StringType),
		cel.Variable("meta", mapStrDyn),
		cel.Variable("conf", mapStrDyn),
		cel.Variable("state", cel.DynType),
		cel.Variable("metrics", mapStrDyn),

		cel.Function("like",
			cel.Overload("like_string_string", strStr, cel.BoolType,
				cel.BinaryBinding(celLike))),
		cel.Function("ilike",
			cel.Overload("ilike_string_string", strStr, cel.BoolType,
				cel.BinaryBinding(celILike))),
		cel.Function(overloads.Matches,
			cel.Overload(overloads.Matches, strStr, cel.BoolType),
			cel.MemberOverload(overloads.MatchesString, strStr, cel.BoolType),
			// The stock matches binding is a singleton, so the cached
			// replacement must be one too; per-overload bindings are
			// rejected as incompatible.
			cel.SingletonBinaryBinding(rt.celMatches)),

		cel.Function("print",
			cel.Overload("print_dyn", []*cel.Type{cel.DynType}, cel.BoolType,
				cel.UnaryBinding(rt.celPrint))),
		cel.Function("eprint",
			cel.Overload("eprint_dyn", []*cel.Type{cel.DynType}, cel.BoolType,
				cel.UnaryBinding(rt.celEPrint))),
		cel.Function("exit",
			cel.Overload("exit_int", []*cel.Type{cel.IntType}, cel.BoolType,
				cel.UnaryBinding(rt.celExit))),

		cel.Function("set",
			cel.Overload("set_string_dyn", strDyn, cel.BoolType,
				cel.BinaryBinding(rt.celSet))),
		cel.Function("del",
			cel.Overload("del_string", []*cel.Type{cel.StringType}, cel.BoolType,
				cel.UnaryBinding(rt.celDel))),

		cel.Function("track",
			cel.Overload("track_string", []*cel.Type{cel.StringType}, cel.BoolType,
				cel.UnaryBinding(rt.celTrackOne)),
			cel.Overload("track_string_dyn", strDyn, cel.BoolType,
				cel.BinaryBinding(rt.celTrackDelta))),

		cel.Function("state_set",
			cel.Overload("state_set_string_dyn", strDyn, cel.BoolType,
				cel.BinaryBinding(rt.celStateSet))),
		cel.Function("state_merge",
			cel.Overload("state_merge_map", []*cel.Type{mapStrDyn}, cel.BoolType,
				cel.UnaryBinding(rt.celStateMerge))),
		cel.Function("state_clear",
			cel.Overload("state_clear", []*cel.Type{}, cel.BoolType,
				cel.FunctionBinding(rt.celStateClear))),

		cel.Function("conf_set",
			cel.Overload("conf_set_string_dyn", strDyn, cel.BoolType,
				cel.BinaryBinding(rt.celConfSet))),

		cel.Function("to_number",
			cel.Overload("to_number_dyn", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(rt.celToNumber))),
		cel.Function("to_bool",
			cel.Overload("to_bool_dyn", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(rt.celToBool))),
		cel.Function("field",
			cel.Overload("field_dyn_string", []*cel.Type{cel.DynType, cel.StringType}, cel.DynType,
				cel.BinaryBinding(celField))),
	}
}

func celLike(text, pattern ref.Val) ref.Val {
	t, ok1 := text.Value().(string)
	p, ok2 := pattern.Value().(string)
	if !ok1 || !ok2 {
		return types.NewErr("like expects string arguments")
	}
	return types.Bool(match.Like(t, p))
}

func celILike(text, pattern ref.Val) ref.Val {
	t, ok1 := text.Value().(string)
	p, ok2 := pattern.Value().(string)
	if !ok1 || !ok2 {
		return types.NewErr("ilike expects string arguments")
	}
	return types.Bool(match.ILike(t, p))
}

// celMatches backs both text.matches(re) and matches(text, re) with the
// per-runtime compiled-regex cache.
func (rt *Runtime) celMatches(text, pattern ref.Val) ref.Val {
	t, ok1 := text.Value().(string)
	p, ok2 := pattern.Value().(string)
	if !ok1 || !ok2 {
		return types.NewErr("matches expects string arguments")
	}
	matched, err := rt.regexps.Matches(t, p)
	if err != nil {
		return types.WrapErr(err)
	}
	return types.Bool(matched)
}

func (rt *Runtime) celPrint(v ref.Val) ref.Val {
	rt.fx.Print(renderArg(v))
	return types.True
}

func (rt *Runtime) celEPrint(v ref.Val) ref.Val {
	rt.fx.EPrint(renderArg(v))
	return types.True
}

func (rt *Runtime) celExit(v ref.Val) ref.Val {
	code, ok := v.Value().(int64)
	if !ok {
		return types.NewErr("exit expects an integer code")
	}
	rt.fx.RequestExit(int(code))
	return types.True
}

func (rt *Runtime) celSet(name, value ref.Val) ref.Val {
	key, ok := name.Value().(string)
	if !ok {
		return types.NewErr("set expects a string field name")
	}
	if rt.cur == nil {
		return types.NewErr("set is not available in this stage")
	}
	rt.cur.Set(key, model.FromAny(nativeValue(value)))
	return types.True
}

func (rt *Runtime) celDel(name ref.Val) ref.Val {
	key, ok := name.Value().(string)
	if !ok {
		return types.NewErr("del expects a string field name")
	}
	if rt.cur == nil {
		return types.NewErr("del is not available in this stage")
	}
	rt.cur.Delete(key)
	return types.True
}

func (rt *Runtime) celTrackOne(name ref.Val) ref.Val {
	key, ok := name.Value().(string)
	if !ok {
		return types.NewErr("track expects a string counter name")
	}
	rt.fx.Track(key, 1)
	return types.True
}

func (rt *Runtime) celTrackDelta(name, delta ref.Val) ref.Val {
	key, ok := name.Value().(string)
	if !ok {
		return types.NewErr("track expects a string counter name")
	}
	var d float64
	switch n := delta.Value().(type) {
	case int64:
		d = float64(n)
	case uint64:
		d = float64(n)
	case float64:
		d = n
	default:
		return types.NewErr("track expects a numeric delta, got %s", delta.Type().TypeName())
	}
	rt.fx.Track(key, d)
	return types.True
}

func (rt *Runtime) celStateSet(name, value ref.Val) ref.Val {
	key, ok := name.Value().(string)
	if !ok {
		return types.NewErr("state_set expects a string key")
	}
	if err := rt.state.Set(key, nativeValue(value)); err != nil {
		return types.WrapErr(err)
	}
	return types.True
}

func (rt *Runtime) celStateMerge(v ref.Val) ref.Val {
	m, ok := nativeValue(v).(map[string]interface{})
	if !ok {
		return types.NewErr("state_merge expects a map")
	}
	if err := rt.state.Merge(m); err != nil {
		return types.WrapErr(err)
	}
	return types.True
}

func (rt *Runtime) celStateClear(args ...ref.Val) ref.Val {
	if err := rt.state.Clear(); err != nil {
		return types.WrapErr(err)
	}
	return types.True
}

func (rt *Runtime) celConfSet(name, value ref.Val) ref.Val {
	key, ok := name.Value().(string)
	if !ok {
		return types.NewErr("conf_set expects a string key")
	}
	if rt.phase != phaseBegin {
		return types.WrapErr(lserrors.New(lserrors.SeverityHard, lserrors.CodeScriptEval,
			"conf_set is only available in begin stages"))
	}
	rt.conf[key] = nativeValue(value)
	return types.True
}

// celToNumber coerces to int or float. Failure is a soft diagnostic and
// yields null so surrounding expressions can test the result.
func (rt *Runtime) celToNumber(v ref.Val) ref.Val {
	n, ok := model.FromAny(nativeValue(v)).ToNumber()
	if !ok {
		rt.reportSoft(lserrors.Newf(lserrors.SeveritySoft, lserrors.CodeCoercion,
			"cannot convert %s to number", v.Type().TypeName()))
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(n.ToAny())
}

func (rt *Runtime) celToBool(v ref.Val) ref.Val {
	b, ok := model.FromAny(nativeValue(v)).ToBool()
	if !ok {
		rt.reportSoft(lserrors.Newf(lserrors.SeveritySoft, lserrors.CodeCoercion,
			"cannot convert %s to bool", v.Type().TypeName()))
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(b.ToAny())
}

// celField resolves a dotted path inside a nested value, returning null
// when any step of the path is absent. field(e, "req.user.id") is the
// lookup-tolerant alternative to e.req.user.id.
func celField(container, path ref.Val) ref.Val {
	p, ok := path.Value().(string)
	if !ok {
		return types.NewErr("field expects a string path")
	}
	cur := nativeValue(container)
	for _, part := range strings.Split(p, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return types.NullValue
		}
		cur, ok = m[part]
		if !ok {
			return types.NullValue
		}
	}
	return types.DefaultTypeAdapter.NativeToValue(cur)
}

// renderArg formats a print/eprint argument the way the value would
// appear in default output. Strings pass through unquoted.
func renderArg(v ref.Val) string {
	return model.FromAny(nativeValue(v)).Render()
}
