package model

import (
	"strings"
	"testing"
	"time"
)

func TestValue_Kinds(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		kind Kind
	}{
		{"null", Null(), KindNull},
		{"zero value is null", Value{}, KindNull},
		{"bool", Bool(true), KindBool},
		{"int", Int(42), KindInt},
		{"float", Float(3.5), KindFloat},
		{"string", String("hi"), KindString},
		{"time", Time(time.Unix(0, 0)), KindTime},
		{"duration", Duration(time.Second), KindDuration},
		{"list", List([]Value{Int(1)}), KindList},
		{"map", Map(map[string]Value{"a": Int(1)}), KindMap},
	}

	for _, tt := range tests {
		if got := tt.v.Kind(); got != tt.kind {
			t.Errorf("%s: Kind() = %v, want %v", tt.name, got, tt.kind)
		}
	}
}

func TestValue_Render(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"null", Null(), "null"},
		{"bool", Bool(false), "false"},
		{"int", Int(-7), "-7"},
		{"float", Float(2.5), "2.5"},
		{"string", String("plain text"), "plain text"},
		{"duration", Duration(1500 * time.Millisecond), "1.5s"},
		{"list", List([]Value{Int(1), String("x")}), `[1,"x"]`},
		{
			"map keys sorted",
			Map(map[string]Value{"b": Int(2), "a": Int(1), "c": Int(3)}),
			`{"a":1,"b":2,"c":3}`,
		},
		{
			"nested map sorted",
			Map(map[string]Value{"z": Map(map[string]Value{"y": Int(2), "x": Int(1)})}),
			`{"z":{"x":1,"y":2}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Render(); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValue_AppendJSON_EscapesStrings(t *testing.T) {
	var sb strings.Builder
	String(`say "hi"` + "\n").AppendJSON(&sb)
	want := `"say \"hi\"\n"`
	if sb.String() != want {
		t.Errorf("AppendJSON = %s, want %s", sb.String(), want)
	}
}

func TestFromAny_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want Value
	}{
		{"nil", nil, Null()},
		{"bool", true, Bool(true)},
		{"int", 7, Int(7)},
		{"int64", int64(7), Int(7)},
		{"uint64", uint64(7), Int(7)},
		{"float64", 1.5, Float(1.5)},
		{"string", "s", String("s")},
		{"bytes", []byte("s"), String("s")},
		{"list", []interface{}{int64(1), "x"}, List([]Value{Int(1), String("x")})},
		{
			"map",
			map[string]interface{}{"a": int64(1)},
			Map(map[string]Value{"a": Int(1)}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromAny(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("FromAny(%v) = %v, want %v", tt.in, got.Render(), tt.want.Render())
			}
		})
	}
}

func TestValue_ToNumber(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want Value
		ok   bool
	}{
		{"int passthrough", Int(3), Int(3), true},
		{"float passthrough", Float(2.5), Float(2.5), true},
		{"bool true", Bool(true), Int(1), true},
		{"bool false", Bool(false), Int(0), true},
		{"int string", String("42"), Int(42), true},
		{"float string", String(" 2.5 "), Float(2.5), true},
		{"bad string", String("forty"), Null(), false},
		{"null", Null(), Null(), false},
		{"list", List(nil), Null(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.ToNumber()
			if ok != tt.ok || !got.Equal(tt.want) {
				t.Errorf("ToNumber() = (%v, %v), want (%v, %v)", got.Render(), ok, tt.want.Render(), tt.ok)
			}
		})
	}
}

func TestValue_ToBool(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want Value
		ok   bool
	}{
		{"bool passthrough", Bool(true), Bool(true), true},
		{"nonzero int", Int(3), Bool(true), true},
		{"zero float", Float(0), Bool(false), true},
		{"yes", String("YES"), Bool(true), true},
		{"off", String("off"), Bool(false), true},
		{"empty string", String(""), Bool(false), true},
		{"bad string", String("maybe"), Null(), false},
		{"null", Null(), Null(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.ToBool()
			if ok != tt.ok || !got.Equal(tt.want) {
				t.Errorf("ToBool() = (%v, %v), want (%v, %v)", got.Render(), ok, tt.want.Render(), tt.ok)
			}
		})
	}
}
