package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"0", true, false},
		{"off", true, false},
		{"", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Setenv("TEST_BOOL", tt.value)
		if got := ParseBoolEnv("TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.088")
	if got := ParseFloatEnv("TEST_FLOAT", 0.05); got != 0.088 {
		t.Errorf("expected 0.088, got %v", got)
	}
	t.Setenv("TEST_FLOAT", "not-a-number")
	if got := ParseFloatEnv("TEST_FLOAT", 0.05); got != 0.05 {
		t.Errorf("expected default 0.05, got %v", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := ParseIntEnv("TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("TEST_INT", "forty-two")
	if got := ParseIntEnv("TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	if got := ParseDurationEnv("TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
	t.Setenv("TEST_DUR", "soon")
	if got := ParseDurationEnv("TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("expected default 1m, got %v", got)
	}
}

func TestParseListEnv(t *testing.T) {
	t.Setenv("TEST_LIST", "a-1, a-2 ,,a-3")
	got := ParseListEnv("TEST_LIST")
	if len(got) != 3 || got[0] != "a-1" || got[1] != "a-2" || got[2] != "a-3" {
		t.Errorf("unexpected list %v", got)
	}
	t.Setenv("TEST_LIST", " ")
	if got := ParseListEnv("TEST_LIST"); got != nil {
		t.Errorf("expected nil for blank value, got %v", got)
	}
}

func TestParseRateMapEnv(t *testing.T) {
	t.Setenv("TEST_RATES", "626:0.025, 656:0.05, bogus, 999:abc")
	got := ParseRateMapEnv("TEST_RATES")
	if len(got) != 2 {
		t.Fatalf("expected 2 valid pairs, got %v", got)
	}
	if got["626"] != 0.025 || got["656"] != 0.05 {
		t.Errorf("unexpected rates %v", got)
	}
	t.Setenv("TEST_RATES", "")
	if got := ParseRateMapEnv("TEST_RATES"); got != nil {
		t.Errorf("expected nil for empty value, got %v", got)
	}
}
