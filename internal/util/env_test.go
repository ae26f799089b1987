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
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("NUTRIPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("NUTRIPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("NUTRIPIPE_TEST_STR", "  value ")
	if got := GetEnv("NUTRIPIPE_TEST_STR", "def"); got != "value" {
		t.Errorf("GetEnv = %q, want %q", got, "value")
	}
	t.Setenv("NUTRIPIPE_TEST_STR", "")
	if got := GetEnv("NUTRIPIPE_TEST_STR", "def"); got != "def" {
		t.Errorf("GetEnv on empty = %q, want def", got)
	}
}

func TestGetDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Minute},
		{"90s", 90 * time.Second},
		{"0", 0},
		{"soon", time.Minute},
		{"-5s", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("NUTRIPIPE_TEST_DUR", tt.value)
		if got := GetDurationEnv("NUTRIPIPE_TEST_DUR", time.Minute); got != tt.want {
			t.Errorf("GetDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetIntEnv(t *testing.T) {
	t.Setenv("NUTRIPIPE_TEST_INT", "8")
	if got := GetIntEnv("NUTRIPIPE_TEST_INT", 4); got != 8 {
		t.Errorf("GetIntEnv = %d, want 8", got)
	}
	t.Setenv("NUTRIPIPE_TEST_INT", "eight")
	if got := GetIntEnv("NUTRIPIPE_TEST_INT", 4); got != 4 {
		t.Errorf("GetIntEnv on invalid = %d, want 4", got)
	}
}
