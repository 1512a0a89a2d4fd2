package store

import (
	"slices"
	"testing"
)

func TestRelationType(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"著作", "AUTHORED"},
		{"提及", "MENTIONS"},
		{"相关", "RELATES"},
		{"works_at", "WORKS_AT"},
		{"有点奇怪", DefaultRelationType},
		{"bad-type", DefaultRelationType},
		{"1abc", DefaultRelationType},
		{"", DefaultRelationType},
	}
	for _, tt := range tests {
		if got := RelationType(tt.label); got != tt.want {
			t.Fatalf("RelationType(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

func TestChunkRange(t *testing.T) {
	var got [][2]int
	err := ChunkRange(7, 3, func(start, end int) error {
		got = append(got, [2]int{start, end})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := [][2]int{{0, 3}, {3, 6}, {6, 7}}
	if !slices.Equal(got, want) {
		t.Fatalf("ChunkRange() = %v, want %v", got, want)
	}
}

func TestDedupeStrings(t *testing.T) {
	got := DedupeStrings([]string{"a", "", "b", "a"})
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("DedupeStrings() = %v", got)
	}
}
