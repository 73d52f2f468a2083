package common

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("RELENTLESS_TEST_VALUE", "set")
	if got := GetEnv("RELENTLESS_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("unexpected value: %s", got)
	}
	t.Setenv("RELENTLESS_TEST_VALUE", "")
	if got := GetEnv("RELENTLESS_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("unexpected fallback: %s", got)
	}
}

func TestParseFallbacks(t *testing.T) {
	if got := ParseDuration("2s", time.Second); got != 2*time.Second {
		t.Fatalf("unexpected duration: %v", got)
	}
	if got := ParseDuration("soon", time.Second); got != time.Second {
		t.Fatalf("unexpected duration fallback: %v", got)
	}
	if got := ParseInt("7", 1); got != 7 {
		t.Fatalf("unexpected int: %d", got)
	}
	if got := ParseInt("seven", 1); got != 1 {
		t.Fatalf("unexpected int fallback: %d", got)
	}
	if got := ParseBool("true", false); !got {
		t.Fatal("expected true")
	}
	if got := ParseBool("", true); !got {
		t.Fatal("expected fallback true")
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" a, ,b ,,c")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected split: %#v", got)
	}
	if got := SplitCSV(""); len(got) != 0 {
		t.Fatalf("expected empty split, got %#v", got)
	}
}
