package cache

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"  SELECT   1  ", "SELECT 1"},
		{"SELECT\n\t1;", "SELECT 1"},
		{"SELECT 1 ;", "SELECT 1"},
		{"SELECT 1;;", "SELECT 1"},
		{"SELECT ';' FROM t", "SELECT ';' FROM t"},
		{"", ""},
		{" ; ", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("SELECT count(*) FROM hits")
	b := Fingerprint("SELECT  count(*)\nFROM hits;")
	c := Fingerprint("SELECT count(*) FROM visits")

	if a != b {
		t.Errorf("whitespace-only difference changed fingerprint: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different queries share a fingerprint")
	}
	if !strings.HasPrefix(a, KeyPrefix) {
		t.Errorf("fingerprint %q missing prefix", a)
	}
	if len(a) != len(KeyPrefix)+32 {
		t.Errorf("expected 128-bit hex digest, got %q", a)
	}
}

func TestProperty_Normalize(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	queryChars := gen.OneConstOf("S", "E", "L", "1", "*", "(", ")", ";", " ", "\t", "\n", ",")
	queries := gen.SliceOf(queryChars).Map(func(parts []string) string {
		return strings.Join(parts, "")
	})

	properties.Property("normalize is idempotent", prop.ForAll(
		func(s string) bool {
			n := Normalize(s)
			return Normalize(n) == n
		},
		queries,
	))

	properties.Property("whitespace padding and a terminator keep the fingerprint", prop.ForAll(
		func(s string) bool {
			return Fingerprint(s) == Fingerprint("  \n"+s+" ;\t")
		},
		queries,
	))

	properties.TestingRun(t)
}
