package sessions

import "testing"

func TestBuildDirectivePrefixOrdersByPriorityAscending(t *testing.T) {
	directives := []Directive{
		{ID: "d3", Content: "C", Priority: 30, Active: true},
		{ID: "d1", Content: "A", Priority: 10, Active: true},
		{ID: "d2", Content: "B", Priority: 20, Active: true},
	}
	got := BuildDirectivePrefix(directives)
	if got != "ABC" {
		t.Fatalf("BuildDirectivePrefix = %q, want %q", got, "ABC")
	}
}

func TestBuildDirectivePrefixSkipsInactive(t *testing.T) {
	directives := []Directive{
		{ID: "d1", Content: "A", Priority: 10, Active: true},
		{ID: "d2", Content: "B", Priority: 20, Active: false},
	}
	got := BuildDirectivePrefix(directives)
	if got != "A" {
		t.Fatalf("BuildDirectivePrefix = %q, want %q", got, "A")
	}
}

func TestBuildDirectivePrefixEmpty(t *testing.T) {
	if got := BuildDirectivePrefix(nil); got != "" {
		t.Fatalf("BuildDirectivePrefix(nil) = %q, want empty", got)
	}
}
