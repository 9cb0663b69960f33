package version

import "testing"

func TestResolveFallsBackToBuildTime(t *testing.T) {
	origVersion, origBuildTime := Version, BuildTime
	defer func() { Version, BuildTime = origVersion, origBuildTime }()

	Version = ""
	BuildTime = "20260102T030405Z"

	info := Resolve()
	if info.Version != BuildTime {
		t.Fatalf("expected version %q, got %q", BuildTime, info.Version)
	}
}

func TestResolveKeepsStampedVersion(t *testing.T) {
	origVersion := Version
	defer func() { Version = origVersion }()

	Version = "v1.2.3"
	if got := Resolve().Version; got != "v1.2.3" {
		t.Fatalf("expected stamped version, got %q", got)
	}
}

func TestStringIncludesShortCommit(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() { Version, Commit = origVersion, origCommit }()

	Version = "v0.1.0"
	Commit = "0123456789abcdef0123456789abcdef01234567"

	got := String()
	want := "v0.1.0 (0123456789ab)"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestShortCommit(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"abc", "abc"},
		{"0123456789ab", "0123456789ab"},
		{"0123456789abcdef", "0123456789ab"},
	}
	for _, tc := range tests {
		if got := shortCommit(tc.input); got != tc.want {
			t.Errorf("shortCommit(%q): expected %q, got %q", tc.input, tc.want, got)
		}
	}
}
