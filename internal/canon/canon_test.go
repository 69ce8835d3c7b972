package canon

import (
	"strings"
	"testing"
)

func TestSanitizePathComponent(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"AC/DC", "AC_DC"},
		{"What?!", "What"},
		{"Name: Subtitle", "Name_ Subtitle"},
		{"a<b>c|d", "a_b_c_d"},
		{"Trailing dots...", "Trailing dots"},
		{"__leading", "leading"},
		{"double__under", "double_under"},
		{"&ME", "&ME"},
		{"", ""},
		{"///", "Unknown"},
		{"normal name", "normal name"},
	}

	for _, tt := range tests {
		if got := SanitizePathComponent(tt.input); got != tt.expected {
			t.Errorf("SanitizePathComponent(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestSanitizeLongComponent(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := SanitizePathComponent(long)
	if len(got) > 200 {
		t.Errorf("component not truncated: %d chars", len(got))
	}
}

func TestDefaultCanonicalizerPure(t *testing.T) {
	c := Default{}
	a := c.CanonicalizeDisplay("Dvořák: Symphony No. 9", CategoryComposer)
	b := c.CanonicalizeDisplay("Dvořák: Symphony No. 9", CategoryComposer)
	if a != b {
		t.Errorf("canonicalization not deterministic: %q != %q", a, b)
	}
	if strings.ContainsAny(a, `/\:*?"<>|`) {
		t.Errorf("illegal characters survived: %q", a)
	}
}
