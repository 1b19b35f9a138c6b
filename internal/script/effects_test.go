package script

import (
	"bytes"
	"testing"
)

func TestEffectsBuffered(t *testing.T) {
	fx := NewEffects()
	fx.Print("one")
	fx.EPrint("warn")
	fx.Print("two")

	msgs := fx.TakeMessages()
	want := []Message{
		{Stream: StreamOut, Text: "one"},
		{Stream: StreamErr, Text: "warn"},
		{Stream: StreamOut, Text: "two"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("TakeMessages returned %d messages, want %d", len(msgs), len(want))
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, msgs[i], want[i])
		}
	}
	if again := fx.TakeMessages(); len(again) != 0 {
		t.Errorf("second TakeMessages returned %d messages, want 0", len(again))
	}
}

func TestEffectsDirect(t *testing.T) {
	var out, diag bytes.Buffer
	fx := NewDirectEffects(&out, &diag)
	fx.Print("hello")
	fx.EPrint("oops")

	if got := out.String(); got != "hello\n" {
		t.Errorf("out = %q, want %q", got, "hello\n")
	}
	if got := diag.String(); got != "oops\n" {
		t.Errorf("diag = %q, want %q", got, "oops\n")
	}
	if msgs := fx.TakeMessages(); len(msgs) != 0 {
		t.Errorf("direct effects buffered %d messages, want 0", len(msgs))
	}
}

func TestEffectsTrack(t *testing.T) {
	fx := NewEffects()
	fx.Track("errors", 1)
	fx.Track("errors", 1)
	fx.Track("bytes", 10.5)

	tracks := fx.TakeTracks()
	if tracks["errors"] != 2 {
		t.Errorf("errors = %v, want 2", tracks["errors"])
	}
	if tracks["bytes"] != 10.5 {
		t.Errorf("bytes = %v, want 10.5", tracks["bytes"])
	}
	if again := fx.TakeTracks(); len(again) != 0 {
		t.Errorf("second TakeTracks returned %d entries, want 0", len(again))
	}
}

func TestEffectsExit(t *testing.T) {
	tests := []struct {
		name string
		code int
		want int
	}{
		{"plain", 7, 7},
		{"negative clamps", -5, 0},
		{"overflow clamps", 300, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := NewEffects()
			if _, ok := fx.ExitRequested(); ok {
				t.Fatal("exit requested before any call")
			}
			fx.RequestExit(tt.code)
			code, ok := fx.ExitRequested()
			if !ok {
				t.Fatal("exit not requested after call")
			}
			if code != tt.want {
				t.Errorf("exit code = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestEffectsExitFirstWins(t *testing.T) {
	fx := NewEffects()
	fx.RequestExit(3)
	fx.RequestExit(9)
	code, ok := fx.ExitRequested()
	if !ok || code != 3 {
		t.Errorf("exit = (%d, %v), want (3, true)", code, ok)
	}
}
