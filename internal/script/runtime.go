// Package script compiles and evaluates the expression stages that make
// up a pipeline. Each stage is a single CEL expression evaluated against
// the current event; filters decide whether the event survives, execs
// run for their side effects and may merge a result map back into the
// event. A Runtime is single-goroutine; parallel processing gives each
// worker its own Runtime so regex caches and effect buffers stay
// uncontended.
package script

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/logsieve/logsieve/internal/match"
	"github.com/logsieve/logsieve/internal/model"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// StageKind distinguishes how a stage's result is interpreted.
type StageKind uint8

const (
	// StageFilter keeps the event when the expression is true.
	StageFilter StageKind = iota
	// StageExec runs for side effects; a map result merges into the event.
	StageExec
	// StageBegin runs once before any input is read.
	StageBegin
	// StageEnd runs once after all input is processed.
	StageEnd
)

func (k StageKind) String() string {
	switch k {
	case StageFilter:
		return "filter"
	case StageExec:
		return "exec"
	case StageBegin:
		return "begin"
	case StageEnd:
		return "end"
	}
	return "unknown"
}

// Stage is one expression in command-line order.
type Stage struct {
	Kind   StageKind
	Source string
}

type compiledStage struct {
	kind StageKind
	src  string
	prg  cel.Program
}

type phase uint8

const (
	phaseEvent phase = iota
	phaseBegin
	phaseEnd
)

// Config describes how to build a Runtime.
type Config struct {
	// Stages in command-line order. Begin and end stages are pulled out
	// and run by RunBegin/RunEnd; the rest run per event.
	Stages []Stage

	// State backs the state variable and the state_* functions. Nil
	// means sequential mode with a fresh in-process map. Parallel
	// workers pass DeniedState so misuse produces the descriptive error.
	State StateAccess

	// Direct controls output buffering. Sequential runtimes write print
	// and eprint straight to Out and Diag; parallel workers buffer
	// messages for ordered replay.
	Direct bool
	Out    io.Writer
	Diag   io.Writer

	// Conf seeds the conf variable. Workers inherit the coordinator's
	// post-begin snapshot.
	Conf map[string]interface{}

	// Report receives soft diagnostics raised inside function bindings
	// (coercion failures). May be nil.
	Report func(error)
}

// Runtime holds the compiled stages and per-evaluation machinery.
type Runtime struct {
	env     *cel.Env
	stages  []compiledStage // per-event, command-line order
	begins  []compiledStage
	ends    []compiledStage
	regexps *match.Regexps
	fx      *Effects
	state   StateAccess
	conf    map[string]interface{}
	metrics map[string]interface{}
	report  func(error)

	phase phase
	cur   *model.Event // event visible to set/del during RunEvent
}

// New compiles every stage. Compilation failures are hard errors naming
// the offending source.
func New(cfg Config) (*Runtime, error) {
	rt := &Runtime{
		regexps: match.NewRegexps(),
		state:   cfg.State,
		conf:    cfg.Conf,
		report:  cfg.Report,
	}
	if rt.state == nil {
		rt.state = NewStateMap()
	}
	if rt.conf == nil {
		rt.conf = make(map[string]interface{})
	}
	if cfg.Direct {
		rt.fx = NewDirectEffects(cfg.Out, cfg.Diag)
	} else {
		rt.fx = NewEffects()
	}

	env, err := cel.NewEnv(rt.envOptions()...)
	if err != nil {
		return nil, lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeInternal,
			"building script environment")
	}
	rt.env = env

	for _, st := range cfg.Stages {
		cs, err := rt.compile(st)
		if err != nil {
			return nil, err
		}
		switch st.Kind {
		case StageBegin:
			rt.begins = append(rt.begins, cs)
		case StageEnd:
			rt.ends = append(rt.ends, cs)
		default:
			rt.stages = append(rt.stages, cs)
		}
	}
	return rt, nil
}

func (rt *Runtime) compile(st Stage) (compiledStage, error) {
	ast, iss := rt.env.Compile(st.Source)
	if iss != nil && iss.Err() != nil {
		return compiledStage{}, lserrors.Wrapf(iss.Err(), lserrors.SeverityHard,
			lserrors.CodeScriptCompile, "compiling %s %q", st.Kind, st.Source)
	}
	if st.Kind == StageFilter {
		out := ast.OutputType()
		if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return compiledStage{}, lserrors.Newf(lserrors.SeverityHard,
				lserrors.CodeScriptCompile,
				"filter %q must produce a boolean, got %s", st.Source, out)
		}
	}
	prg, err := rt.env.Program(ast)
	if err != nil {
		return compiledStage{}, lserrors.Wrapf(err, lserrors.SeverityHard,
			lserrors.CodeScriptCompile, "compiling %s %q", st.Kind, st.Source)
	}
	return compiledStage{kind: st.Kind, src: st.Source, prg: prg}, nil
}

// Effects exposes the runtime's side-effect sink so the engine can
// drain buffered messages and counters and observe exit requests.
func (rt *Runtime) Effects() *Effects {
	return rt.fx
}

// Conf returns the configuration map as it stands, for handing to
// worker runtimes after the begin stages have run.
func (rt *Runtime) Conf() map[string]interface{} {
	out := make(map[string]interface{}, len(rt.conf))
	for k, v := range rt.conf {
		out[k] = v
	}
	return out
}

// HasEventStages reports whether any per-event stage was supplied.
func (rt *Runtime) HasEventStages() bool {
	return len(rt.stages) > 0
}

// RunBegin evaluates the begin stages in order. Any evaluation error
// aborts before input is read.
func (rt *Runtime) RunBegin() error {
	rt.phase = phaseBegin
	defer func() { rt.phase = phaseEvent }()
	for _, st := range rt.begins {
		if _, err := rt.eval(st, nil); err != nil {
			return escalate(err)
		}
	}
	return nil
}

// RunEnd evaluates the end stages with the run's metrics bound.
func (rt *Runtime) RunEnd(metrics map[string]interface{}) error {
	rt.phase = phaseEnd
	rt.metrics = metrics
	defer func() {
		rt.phase = phaseEvent
		rt.metrics = nil
	}()
	for _, st := range rt.ends {
		if _, err := rt.eval(st, nil); err != nil {
			return escalate(err)
		}
	}
	return nil
}

// RunEvent pushes one event through the per-event stages in order.
// It reports whether the event survived. Soft errors are reported and
// skip only the failing stage (a soft-failing filter drops the event);
// anything harder is returned for the engine's severity policy.
func (rt *Runtime) RunEvent(e *model.Event) (bool, error) {
	rt.cur = e
	defer func() { rt.cur = nil }()

	for _, st := range rt.stages {
		val, err := rt.eval(st, e)
		if err != nil {
			if lserrors.SeverityOf(err) == lserrors.SeveritySoft {
				rt.reportSoft(err)
				if st.kind == StageFilter {
					return false, nil
				}
				continue
			}
			return false, err
		}
		switch st.kind {
		case StageFilter:
			keep, ok := val.Value().(bool)
			if !ok {
				return false, lserrors.Newf(lserrors.SeverityMedium,
					lserrors.CodeScriptEval,
					"filter %q produced %s, want bool", st.src, val.Type().TypeName())
			}
			if !keep {
				return false, nil
			}
		case StageExec:
			rt.mergeResult(e, val)
		}
		if _, requested := rt.fx.ExitRequested(); requested {
			break
		}
	}
	return true, nil
}

func (rt *Runtime) eval(st compiledStage, e *model.Event) (ref.Val, error) {
	val, _, err := st.prg.Eval(rt.activation(e))
	if err != nil {
		return nil, classify(err, st.src)
	}
	return val, nil
}

// activation builds the variable bindings for one evaluation. A fresh
// map per stage means later stages observe earlier stages' mutations.
func (rt *Runtime) activation(e *model.Event) map[string]interface{} {
	fields := map[string]interface{}{}
	line := ""
	meta := map[string]interface{}{"file": "", "lnum": int64(0)}
	if e != nil {
		fields = e.FieldMap()
		line = e.Raw
		meta = map[string]interface{}{
			"file": e.File,
			"lnum": int64(e.LNum),
		}
	}
	metrics := rt.metrics
	if metrics == nil {
		metrics = map[string]interface{}{}
	}
	return map[string]interface{}{
		"e":       fields,
		"line":    line,
		"meta":    meta,
		"conf":    rt.conf,
		"state":   stateVal{access: rt.state},
		"metrics": metrics,
	}
}

// mergeResult folds an exec stage's map result into the event. Keys
// apply in sorted order so replays are deterministic; a null value
// deletes the field.
func (rt *Runtime) mergeResult(e *model.Event, val ref.Val) {
	m, ok := val.(traits.Mapper)
	if !ok {
		return
	}
	type entry struct {
		key string
		val ref.Val
	}
	var entries []entry
	it := m.Iterator()
	for it.HasNext() == types.True {
		k := it.Next()
		entries = append(entries, entry{fmt.Sprintf("%v", k.Value()), m.Get(k)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	for _, en := range entries {
		if _, isNull := en.val.(types.Null); isNull {
			e.Delete(en.key)
			continue
		}
		e.Set(en.key, model.FromAny(nativeValue(en.val)))
	}
}

func (rt *Runtime) reportSoft(err error) {
	if rt.report != nil {
		rt.report(err)
	}
}

// classify maps an evaluation error onto the severity ladder. Errors
// originating in our own bindings carry their severity already; lookups
// of absent fields are soft; everything else is a medium script error.
func classify(err error, src string) error {
	var lse *lserrors.Error
	if errors.As(err, &lse) {
		return lse
	}
	msg := err.Error()
	if strings.Contains(msg, "no such key") || strings.Contains(msg, "no such attribute") {
		return lserrors.Wrapf(err, lserrors.SeveritySoft, lserrors.CodeMissingField,
			"in %q", src)
	}
	return lserrors.Wrapf(err, lserrors.SeverityMedium, lserrors.CodeScriptEval,
		"evaluating %q", src)
}

// escalate promotes begin/end failures to hard: a stage that runs once
// and fails leaves the pipeline misconfigured.
func escalate(err error) error {
	var lse *lserrors.Error
	if errors.As(err, &lse) && lse.Severity < lserrors.SeverityHard {
		return lserrors.New(lserrors.SeverityHard, lse.Code, lse.Error())
	}
	return err
}
