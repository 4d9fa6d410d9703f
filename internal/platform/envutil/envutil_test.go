package envutil

import (
	"testing"
	"time"
)

func TestInt_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("WHYTV_TEST_INT", "abc")
	if got := Int("WHYTV_TEST_INT", 7); got != 7 {
		t.Fatalf("expected default, got %d", got)
	}
	t.Setenv("WHYTV_TEST_INT", " 12 ")
	if got := Int("WHYTV_TEST_INT", 7); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("WHYTV_TEST_BOOL", "off")
	if Bool("WHYTV_TEST_BOOL", true) {
		t.Fatalf("expected false")
	}
	t.Setenv("WHYTV_TEST_BOOL", "maybe")
	if !Bool("WHYTV_TEST_BOOL", true) {
		t.Fatalf("expected default true")
	}
}

func TestSecondsAndCSV(t *testing.T) {
	t.Setenv("WHYTV_TEST_SECS", "90")
	if got := Seconds("WHYTV_TEST_SECS", time.Second); got != 90*time.Second {
		t.Fatalf("unexpected duration: %s", got)
	}
	t.Setenv("WHYTV_TEST_CSV", "a, ,b,")
	got := CSV("WHYTV_TEST_CSV", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected csv: %#v", got)
	}
}
