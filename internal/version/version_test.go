package version_test

import (
	"strings"
	"testing"

	v "github.com/keithlinneman/linnemanlabs-contentsync/internal/version"
)

func TestVCSDirtyTriState(t *testing.T) {
	t.Cleanup(func() { v.VCSDirty = nil })

	v.VCSDirty = nil
	info := v.Get()
	if info.VCSDirty != nil {
		t.Fatalf("VCSDirty = %v, want nil", info.VCSDirty)
	}

	trueVal := true
	v.VCSDirty = &trueVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != true {
		t.Fatalf("VCSDirty = %v, want true", info.VCSDirty)
	}

	falseVal := false
	v.VCSDirty = &falseVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != false {
		t.Fatalf("VCSDirty = %v, want false", info.VCSDirty)
	}
}

func TestShortCommit(t *testing.T) {
	tests := []struct {
		commit string
		want   string
	}{
		{"0123456789abcdef0123", "0123456789ab"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := (v.Info{Commit: tt.commit}).ShortCommit(); got != tt.want {
			t.Errorf("ShortCommit(%q) = %q, want %q", tt.commit, got, tt.want)
		}
	}
}

func TestString(t *testing.T) {
	dirty := true
	s := v.Info{Version: "1.4.0", Commit: "0123456789abcdef", GoVersion: "go1.24.11", VCSDirty: &dirty}.String()
	for _, want := range []string{"1.4.0", "0123456789ab", "dirty", "go1.24.11"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
	if strings.Contains(v.Info{Version: "dev", Commit: "none"}.String(), "dirty") {
		t.Error("clean build should not be marked dirty")
	}
}

func TestUserAgent(t *testing.T) {
	got := v.Info{Version: "1.4.0", Commit: "0123456789abcdef"}.UserAgent("contentsyncd")
	if got != "contentsyncd/1.4.0 (0123456789ab)" {
		t.Fatalf("UserAgent = %q", got)
	}
}
