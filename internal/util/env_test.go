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
		{"1", false, true},
		{"YES", false, true},
		{"off", true, false},
		{"0", true, false},
		{"", true, true},
		{"garbage", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL_ENV", tt.value)
			if got := ParseBoolEnv("TEST_BOOL_ENV", tt.def); got != tt.want {
				t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT_ENV", "42")
	if got := ParseIntEnv("TEST_INT_ENV", 7); got != 42 {
		t.Errorf("ParseIntEnv() = %d, want 42", got)
	}

	t.Setenv("TEST_INT_ENV", "not-a-number")
	if got := ParseIntEnv("TEST_INT_ENV", 7); got != 7 {
		t.Errorf("ParseIntEnv() with invalid value = %d, want default 7", got)
	}

	t.Setenv("TEST_INT_ENV", "")
	if got := ParseIntEnv("TEST_INT_ENV", 7); got != 7 {
		t.Errorf("ParseIntEnv() with empty value = %d, want default 7", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR_ENV", "1500")
	if got := ParseDurationEnv("TEST_DUR_ENV", time.Millisecond, time.Second); got != 1500*time.Millisecond {
		t.Errorf("ParseDurationEnv() = %v, want 1.5s", got)
	}

	t.Setenv("TEST_DUR_ENV", "-5")
	if got := ParseDurationEnv("TEST_DUR_ENV", time.Second, time.Minute); got != time.Minute {
		t.Errorf("ParseDurationEnv() with negative value = %v, want default 1m", got)
	}
}
