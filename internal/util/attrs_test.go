package util

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	m := map[string]any{"a": "  hello ", "b": nil, "c": []byte("x"), "d": 42, "e": "   "}
	if got, ok := String(m, "a"); !ok || got != "hello" {
		t.Fatalf("got %q %v", got, ok)
	}
	if _, ok := String(m, "b"); ok {
		t.Fatal("nil column should be absent")
	}
	if _, ok := String(m, "e"); ok {
		t.Fatal("blank column should be absent")
	}
	if got, _ := String(m, "c"); got != "x" {
		t.Fatalf("got %q", got)
	}
	if got, _ := String(m, "d"); got != "42" {
		t.Fatalf("got %q", got)
	}
	if OptionalString(m, "missing") != nil {
		t.Fatal("expected nil")
	}
}

func TestTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	m := map[string]any{
		"rfc":   "2024-03-01T10:30:00Z",
		"plain": "2024-03-01T10:30:00",
		"date":  "2024-03-01",
		"typed": want,
		"bad":   "yesterday",
	}
	for _, col := range []string{"rfc", "plain", "typed"} {
		got, ok, err := Time(m, col)
		if err != nil || !ok || !got.Equal(want) {
			t.Fatalf("%s: got %v %v %v", col, got, ok, err)
		}
	}
	if got, _, _ := Time(m, "date"); !got.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date: got %v", got)
	}
	if _, _, err := Time(m, "bad"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, ok, err := Time(m, "missing"); ok || err != nil {
		t.Fatal("missing column should be absent without error")
	}
}
