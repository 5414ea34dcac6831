package semver

import (
	"errors"
	"testing"
)

func TestParseAcceptsTagSpellings(t *testing.T) {
	cases := map[string]string{
		"1.4.0":             "1.4.0",
		"v1.4.0":            "1.4.0",
		"cabplanner-1.4.0":  "1.4.0",
		"cabplanner-v1.4.0": "1.4.0",
		"  v2.0.1  ":        "2.0.1",
		"1.2.3-rc.1":        "1.2.3-rc.1",
	}

	for input, want := range cases {
		v, err := Parse(input)
		if err != nil {
			t.Errorf("Parse(%q) error = %v", input, err)
			continue
		}
		if v.String() != want {
			t.Errorf("Parse(%q) = %s, want %s", input, v.String(), want)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "   ", "not-a-version", "1.2", "v"} {
		if _, err := Parse(input); !errors.Is(err, ErrInvalidVersion) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidVersion", input, err)
		}
	}
}

func TestCompare(t *testing.T) {
	a, _ := Parse("1.2.3")
	b, _ := Parse("1.10.0")

	if got := Compare(a, b); got != -1 {
		t.Errorf("Compare(1.2.3, 1.10.0) = %d, want -1", got)
	}
	if got := Compare(b, a); got != 1 {
		t.Errorf("Compare(1.10.0, 1.2.3) = %d, want 1", got)
	}
	if got := Compare(a, a); got != 0 {
		t.Errorf("Compare(1.2.3, 1.2.3) = %d, want 0", got)
	}
}

func TestIsNewer(t *testing.T) {
	if !IsNewer("1.4.0", "v1.5.0") {
		t.Error("1.5.0 should be newer than 1.4.0")
	}
	if IsNewer("1.5.0", "cabplanner-1.5.0") {
		t.Error("equal versions should not report newer")
	}
	if IsNewer("1.5.0", "v1.4.9") {
		t.Error("older version should not report newer")
	}
	// Numeric ordering, not lexicographic.
	if !IsNewer("1.9.0", "1.10.0") {
		t.Error("1.10.0 should be newer than 1.9.0")
	}
	// Prereleases order below their release.
	if IsNewer("1.5.0", "1.5.0-rc.1") {
		t.Error("1.5.0-rc.1 should not be newer than 1.5.0")
	}
}

func TestIsNewerSwallowsParseFailures(t *testing.T) {
	if IsNewer("garbage", "1.5.0") {
		t.Error("unparsable current version must suppress the update")
	}
	if IsNewer("1.4.0", "garbage") {
		t.Error("unparsable latest version must suppress the update")
	}
}
