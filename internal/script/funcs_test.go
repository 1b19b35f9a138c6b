package script

import (
	"testing"

	"github.com/logsieve/logsieve/internal/model"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

func TestGlobFunctions(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageFilter,
		Source: `like(e.file, "access*") && !like(e.file, "error*") && ilike(e.region, "EU-*")`})
	keep, err := rt.RunEvent(event(t, map[string]interface{}{
		"file":   "access.log",
		"region": "eu-west",
	}))
	if err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	if !keep {
		t.Error("glob filter dropped a matching event")
	}
}

func TestMatchesBothCallForms(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageFilter,
		Source: `matches(e.msg, "^ERR") && e.msg.matches("boom$")`})

	keep, err := rt.RunEvent(event(t, map[string]interface{}{"msg": "ERR boom"}))
	if err != nil || !keep {
		t.Errorf("ERR boom: RunEvent = (%v, %v), want (true, nil)", keep, err)
	}
	keep, err = rt.RunEvent(event(t, map[string]interface{}{"msg": "OK fine"}))
	if err != nil || keep {
		t.Errorf("OK fine: RunEvent = (%v, %v), want (false, nil)", keep, err)
	}
}

func TestMatchesIdempotent(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageFilter, Source: `e.msg.matches("^h[aeiou]llo")`})
	for i := 0; i < 3; i++ {
		keep, err := rt.RunEvent(event(t, map[string]interface{}{"msg": "hello world"}))
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !keep {
			t.Errorf("run %d: matches returned false, want true", i)
		}
	}
}

func TestSetDel(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageExec, Source: `set("flagged", true) && del("password")`})

	e := event(t, map[string]interface{}{"password": "hunter2"})
	if _, err := rt.RunEvent(e); err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	v, ok := e.Get("flagged")
	if !ok {
		t.Fatal("set() did not add the field")
	}
	if b, _ := v.AsBool(); !b {
		t.Errorf("flagged = %v, want true", v.Render())
	}
	if e.Has("password") {
		t.Error("del() did not remove the field")
	}
}

func TestTrackAccumulates(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageExec,
		Source: `track("lines") && track("bytes", 10.5) && track("lines")`})
	if _, err := rt.RunEvent(event(t, nil)); err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	tracks := rt.Effects().TakeTracks()
	if tracks["lines"] != 2 {
		t.Errorf("lines = %v, want 2", tracks["lines"])
	}
	if tracks["bytes"] != 10.5 {
		t.Errorf("bytes = %v, want 10.5", tracks["bytes"])
	}
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"int string", `to_number("42") == 42`},
		{"float string", `to_number("3.5") == 3.5`},
		{"bool", `to_number(true) == 1`},
		{"field", `to_number(e.raw_size) == 1024`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := mustRuntime(t, Stage{Kind: StageFilter, Source: tt.source})
			keep, err := rt.RunEvent(event(t, map[string]interface{}{"raw_size": "1024"}))
			if err != nil {
				t.Fatalf("RunEvent: %v", err)
			}
			if !keep {
				t.Errorf("%s evaluated false", tt.source)
			}
		})
	}
}

func TestToNumberFailureYieldsNull(t *testing.T) {
	var reported []error
	rt, err := New(Config{
		Stages: []Stage{{Kind: StageFilter, Source: `to_number(e.name) == null`}},
		Report: func(e error) { reported = append(reported, e) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	keep, err := rt.RunEvent(event(t, map[string]interface{}{"name": "abc"}))
	if err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	if !keep {
		t.Error("failed coercion did not yield null")
	}
	if len(reported) != 1 {
		t.Fatalf("reported %d errors, want 1", len(reported))
	}
	if !lserrors.IsCode(reported[0], lserrors.CodeCoercion) {
		t.Errorf("reported %v, want %s", reported[0], lserrors.CodeCoercion)
	}
}

func TestToBool(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageFilter,
		Source: `to_bool("yes") == true && to_bool("off") == false && to_bool(e.n) == true`})
	keep, err := rt.RunEvent(event(t, map[string]interface{}{"n": int64(1)}))
	if err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	if !keep {
		t.Error("to_bool coercions evaluated false")
	}
}

func TestFieldPathLookup(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageFilter,
		Source: `field(e, "req.user.id") == "u1" && field(e, "req.missing") == null && field(e, "req.user.id.deeper") == null`})

	e := event(t, nil)
	e.Set("req", model.FromAny(map[string]interface{}{
		"user": map[string]interface{}{"id": "u1"},
	}))
	keep, err := rt.RunEvent(e)
	if err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	if !keep {
		t.Error("field path lookups evaluated false")
	}
}

func TestStateMergeAndClear(t *testing.T) {
	rt := mustRuntime(t,
		Stage{Kind: StageExec, Source: `state_merge({"a": 1, "b": 2})`},
		Stage{Kind: StageFilter, Source: `size(state) == 2`},
		Stage{Kind: StageExec, Source: `state_clear()`},
		Stage{Kind: StageFilter, Source: `size(state) == 0`},
	)
	keep, err := rt.RunEvent(event(t, nil))
	if err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	if !keep {
		t.Error("state merge/clear sequence evaluated false")
	}
}

func TestExitClampsInExpression(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageExec, Source: `exit(300)`})
	if _, err := rt.RunEvent(event(t, nil)); err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	code, ok := rt.Effects().ExitRequested()
	if !ok || code != 255 {
		t.Errorf("exit = (%d, %v), want (255, true)", code, ok)
	}
}
