package script

import (
	"bytes"
	"strings"
	"testing"

	"github.com/logsieve/logsieve/internal/model"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

func mustRuntime(t *testing.T, stages ...Stage) *Runtime {
	t.Helper()
	rt, err := New(Config{Stages: stages})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt
}

func event(t *testing.T, fields map[string]interface{}) *model.Event {
	t.Helper()
	e := model.NewEvent("raw line", "test.log", 1)
	for k, v := range fields {
		e.Set(k, model.FromAny(v))
	}
	return e
}

func TestFilterKeepsAndDrops(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageFilter, Source: `e.level == "ERROR"`})

	keep, err := rt.RunEvent(event(t, map[string]interface{}{"level": "ERROR"}))
	if err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	if !keep {
		t.Error("matching event was dropped")
	}

	keep, err = rt.RunEvent(event(t, map[string]interface{}{"level": "INFO"}))
	if err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	if keep {
		t.Error("non-matching event was kept")
	}
}

func TestNoStagesKeepsEverything(t *testing.T) {
	rt := mustRuntime(t)
	if rt.HasEventStages() {
		t.Error("HasEventStages = true with no stages")
	}
	keep, err := rt.RunEvent(event(t, nil))
	if err != nil || !keep {
		t.Errorf("RunEvent = (%v, %v), want (true, nil)", keep, err)
	}
}

func TestExecMergesResultMap(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageExec, Source: `{"status": 200, "junk": null}`})

	e := event(t, map[string]interface{}{"junk": "x"})
	keep, err := rt.RunEvent(e)
	if err != nil || !keep {
		t.Fatalf("RunEvent = (%v, %v), want (true, nil)", keep, err)
	}

	v, ok := e.Get("status")
	if !ok {
		t.Fatal("status field was not merged")
	}
	if n, _ := v.AsInt(); n != 200 {
		t.Errorf("status = %v, want 200", v.Render())
	}
	if e.Has("junk") {
		t.Error("null result value did not delete the field")
	}
}

func TestStagesSeeEarlierMutations(t *testing.T) {
	rt := mustRuntime(t,
		Stage{Kind: StageExec, Source: `set("seen", 1)`},
		Stage{Kind: StageFilter, Source: `e.seen == 1`},
	)
	keep, err := rt.RunEvent(event(t, nil))
	if err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	if !keep {
		t.Error("second stage did not observe first stage's set()")
	}
}

func TestLineAndMetaBindings(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageFilter,
		Source: `line == "raw line" && meta.file == "test.log" && meta.lnum == 1`})
	keep, err := rt.RunEvent(event(t, nil))
	if err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	if !keep {
		t.Error("line/meta bindings did not match event provenance")
	}
}

func TestBeginConfVisible(t *testing.T) {
	rt := mustRuntime(t,
		Stage{Kind: StageBegin, Source: `conf_set("min", 5)`},
		Stage{Kind: StageFilter, Source: `e.n >= conf["min"]`},
	)
	if err := rt.RunBegin(); err != nil {
		t.Fatalf("RunBegin: %v", err)
	}
	if got := rt.Conf()["min"]; got != int64(5) {
		t.Errorf("Conf()[min] = %v, want 5", got)
	}

	keep, err := rt.RunEvent(event(t, map[string]interface{}{"n": int64(7)}))
	if err != nil || !keep {
		t.Errorf("n=7: RunEvent = (%v, %v), want (true, nil)", keep, err)
	}
	keep, err = rt.RunEvent(event(t, map[string]interface{}{"n": int64(3)}))
	if err != nil || keep {
		t.Errorf("n=3: RunEvent = (%v, %v), want (false, nil)", keep, err)
	}
}

func TestConfSetOutsideBeginIsHard(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageExec, Source: `conf_set("x", 1)`})
	_, err := rt.RunEvent(event(t, nil))
	if err == nil {
		t.Fatal("conf_set in an exec stage succeeded")
	}
	if got := lserrors.SeverityOf(err); got != lserrors.SeverityHard {
		t.Errorf("severity = %v, want hard", got)
	}
	if !strings.Contains(err.Error(), "begin") {
		t.Errorf("error %q does not mention begin stages", err)
	}
}

func TestEndSeesMetrics(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageEnd, Source: `print(metrics["events_out"])`})
	if err := rt.RunEnd(map[string]interface{}{"events_out": int64(10)}); err != nil {
		t.Fatalf("RunEnd: %v", err)
	}
	msgs := rt.Effects().TakeMessages()
	if len(msgs) != 1 || msgs[0].Text != "10" {
		t.Errorf("messages = %+v, want one message %q", msgs, "10")
	}
}

func TestBeginErrorEscalatesToHard(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageBegin, Source: `e.missing == 1`})
	err := rt.RunBegin()
	if err == nil {
		t.Fatal("begin stage with a bad lookup succeeded")
	}
	if got := lserrors.SeverityOf(err); got != lserrors.SeverityHard {
		t.Errorf("severity = %v, want hard", got)
	}
}

func TestStateSequential(t *testing.T) {
	rt := mustRuntime(t,
		Stage{Kind: StageExec, Source: `state_set("prev", e.msg)`},
		Stage{Kind: StageFilter, Source: `state["prev"] == e.msg && "prev" in state && size(state) == 1`},
	)
	keep, err := rt.RunEvent(event(t, map[string]interface{}{"msg": "a"}))
	if err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	if !keep {
		t.Error("state round trip failed")
	}
}

func TestStateDeniedInParallel(t *testing.T) {
	rt, err := New(Config{
		Stages: []Stage{{Kind: StageFilter, Source: `state["n"] == 1`}},
		State:  DeniedState{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = rt.RunEvent(event(t, nil))
	if err == nil {
		t.Fatal("state access with denied capability succeeded")
	}
	if got := lserrors.SeverityOf(err); got != lserrors.SeverityHard {
		t.Errorf("severity = %v, want hard", got)
	}
	if !strings.Contains(err.Error(), "parallel mode") {
		t.Errorf("error %q does not mention parallel mode", err)
	}
}

func TestMissingFieldIsSoft(t *testing.T) {
	var reported []error
	rt, err := New(Config{
		Stages: []Stage{{Kind: StageFilter, Source: `e.absent == "x"`}},
		Report: func(e error) { reported = append(reported, e) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	keep, err := rt.RunEvent(event(t, map[string]interface{}{"present": int64(1)}))
	if err != nil {
		t.Fatalf("RunEvent returned %v, want soft error via report", err)
	}
	if keep {
		t.Error("event survived a failing filter lookup")
	}
	if len(reported) != 1 {
		t.Fatalf("reported %d errors, want 1", len(reported))
	}
	if !lserrors.IsCode(reported[0], lserrors.CodeMissingField) {
		t.Errorf("reported %v, want %s", reported[0], lserrors.CodeMissingField)
	}
	if got := lserrors.SeverityOf(reported[0]); got != lserrors.SeveritySoft {
		t.Errorf("severity = %v, want soft", got)
	}
}

func TestSoftExecErrorContinues(t *testing.T) {
	var reported []error
	rt, err := New(Config{
		Stages: []Stage{
			{Kind: StageExec, Source: `set("a", e.absent)`},
			{Kind: StageExec, Source: `set("b", 2)`},
		},
		Report: func(e error) { reported = append(reported, e) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e := event(t, nil)
	keep, err := rt.RunEvent(e)
	if err != nil || !keep {
		t.Fatalf("RunEvent = (%v, %v), want (true, nil)", keep, err)
	}
	if e.Has("a") {
		t.Error("failing exec stage still set its field")
	}
	if !e.Has("b") {
		t.Error("stage after a soft failure did not run")
	}
	if len(reported) != 1 {
		t.Errorf("reported %d errors, want 1", len(reported))
	}
}

func TestInvalidRegexIsHard(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageFilter, Source: `e.msg.matches("[unclosed")`})
	_, err := rt.RunEvent(event(t, map[string]interface{}{"msg": "x"}))
	if err == nil {
		t.Fatal("matches with an invalid pattern succeeded")
	}
	if got := lserrors.SeverityOf(err); got != lserrors.SeverityHard {
		t.Errorf("severity = %v, want hard", got)
	}
	if !strings.Contains(err.Error(), "[unclosed") {
		t.Errorf("error %q does not contain the offending pattern", err)
	}
}

func TestFilterNonBoolResultIsMedium(t *testing.T) {
	rt := mustRuntime(t, Stage{Kind: StageFilter, Source: `e.flag`})
	_, err := rt.RunEvent(event(t, map[string]interface{}{"flag": "yes"}))
	if err == nil {
		t.Fatal("non-boolean filter result succeeded")
	}
	if got := lserrors.SeverityOf(err); got != lserrors.SeverityMedium {
		t.Errorf("severity = %v, want medium", got)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		stage Stage
	}{
		{"syntax error", Stage{Kind: StageFilter, Source: `e. &&`}},
		{"filter must be bool", Stage{Kind: StageFilter, Source: `"just a string"`}},
		{"unknown function", Stage{Kind: StageExec, Source: `frobnicate(e)`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Stages: []Stage{tt.stage}})
			if err == nil {
				t.Fatalf("New compiled %q", tt.stage.Source)
			}
			if got := lserrors.SeverityOf(err); got != lserrors.SeverityHard {
				t.Errorf("severity = %v, want hard", got)
			}
			if !lserrors.IsCode(err, lserrors.CodeScriptCompile) {
				t.Errorf("code = %s, want %s", lserrors.CodeOf(err), lserrors.CodeScriptCompile)
			}
		})
	}
}

func TestExitRequestStopsLaterStages(t *testing.T) {
	rt := mustRuntime(t,
		Stage{Kind: StageExec, Source: `exit(7)`},
		Stage{Kind: StageExec, Source: `print("after")`},
	)
	keep, err := rt.RunEvent(event(t, nil))
	if err != nil || !keep {
		t.Fatalf("RunEvent = (%v, %v), want (true, nil)", keep, err)
	}
	code, ok := rt.Effects().ExitRequested()
	if !ok || code != 7 {
		t.Errorf("exit = (%d, %v), want (7, true)", code, ok)
	}
	if msgs := rt.Effects().TakeMessages(); len(msgs) != 0 {
		t.Errorf("stages after exit still ran: %+v", msgs)
	}
}

func TestDirectEffectsWriteThrough(t *testing.T) {
	var out, diag bytes.Buffer
	rt, err := New(Config{
		Stages: []Stage{{Kind: StageExec, Source: `print(e.msg) && eprint("seen " + e.msg)`}},
		Direct: true,
		Out:    &out,
		Diag:   &diag,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := rt.RunEvent(event(t, map[string]interface{}{"msg": "hello"})); err != nil {
		t.Fatalf("RunEvent: %v", err)
	}
	if got := out.String(); got != "hello\n" {
		t.Errorf("out = %q, want %q", got, "hello\n")
	}
	if got := diag.String(); got != "seen hello\n" {
		t.Errorf("diag = %q, want %q", got, "seen hello\n")
	}
}
