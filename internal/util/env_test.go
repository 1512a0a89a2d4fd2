package util

import (
	"testing"
	"time"
)

func TestGetEnvNumeric(t *testing.T) {
	t.Setenv("CHUNK_OVERLAP_RATIO", "0.25")
	t.Setenv("BROKEN_NUMBER", "abc")

	if got := GetEnvNumeric("CHUNK_OVERLAP_RATIO", 0.5); got != 0.25 {
		t.Fatalf("expected 0.25, got %v", got)
	}
	if got := GetEnvNumeric("BROKEN_NUMBER", 0.5); got != 0.5 {
		t.Fatalf("expected default for unparsable value, got %v", got)
	}
	if got := GetEnvInt("MISSING_INT_FOR_TEST", 800); got != 800 {
		t.Fatalf("expected default 800, got %d", got)
	}
}

func TestGetEnvMillis(t *testing.T) {
	t.Setenv("RETRY_BASE_MS", "250")
	if got := GetEnvMillis("RETRY_BASE_MS", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"FALSE", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("DEBUG_FLAG_FOR_TEST", tt.value)
		if got := GetEnvBool("DEBUG_FLAG_FOR_TEST", tt.def); got != tt.want {
			t.Fatalf("GetEnvBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}
