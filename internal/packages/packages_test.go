package packages

import (
	"context"
	"strings"
	"testing"
)

type fakeExecutor struct {
	outputs map[string]string
	codes   map[string]int
	calls   []string
}

func (f *fakeExecutor) Output(_ context.Context, binary string, args ...string) ([]byte, int, error) {
	key := binary + " " + args[0] + " " + args[len(args)-1]
	f.calls = append(f.calls, key)
	return []byte(f.outputs[key]), f.codes[key], nil
}

func TestShortName(t *testing.T) {
	tests := map[string]string{
		"bash-5.2.15-3.fc39":        "bash",
		"python3-libs-3.12.0-1.el9": "python3-libs",
		"kernel":                    "kernel",
		"foo-1.0":                   "foo-1.0",
		"":                          "",
	}
	for in, want := range tests {
		if got := ShortName(in); got != want {
			t.Fatalf("ShortName(%q) = %q, want %q", in, got, want)
		}
	}
	if got := ComponentFromSourceRPM("glibc-2.38-1.fc39.src.rpm"); got != "glibc" {
		t.Fatalf("ComponentFromSourceRPM = %q", got)
	}
}

func TestRPMResolver(t *testing.T) {
	exec := &fakeExecutor{
		outputs: map[string]string{
			"rpm -qf /usr/bin/bash":     "bash-5.2.15-3.fc39\n",
			"rpm -q bash-5.2.15-3.fc39": "",
		},
		codes: map[string]int{
			"rpm -qf /opt/custom/tool": 1,
		},
	}
	r := NewRPM(WithExecutor(exec))
	ctx := context.Background()

	nvr, err := r.PackageForPath(ctx, "/usr/bin/bash")
	if err != nil || nvr != "bash-5.2.15-3.fc39" {
		t.Fatalf("PackageForPath = %q, %v", nvr, err)
	}
	none, err := r.PackageForPath(ctx, "/opt/custom/tool")
	if err != nil || none != "" {
		t.Fatalf("expected unowned path, got %q, %v", none, err)
	}

	exec.outputs["rpm -q bash-5.2.15-3.fc39"] = "RSA/SHA256, Tue 01 Aug 2023, Key ID 809A8D7CEB10B464"
	id, err := r.SigningKeyID(ctx, "bash-5.2.15-3.fc39")
	if err != nil || id != "809a8d7ceb10b464" {
		t.Fatalf("SigningKeyID = %q, %v", id, err)
	}

	exec.codes["rpm -q missing-1-1"] = 1
	if _, err := r.Component(ctx, "missing-1-1"); err == nil || !strings.Contains(err.Error(), "not installed") {
		t.Fatalf("expected not installed error, got %v", err)
	}
}

func TestKeyringTrusts(t *testing.T) {
	kr := NewKeyring("809A8D7CEB10B464", "")
	if kr.Len() != 1 {
		t.Fatalf("unexpected key count %d", kr.Len())
	}
	if !kr.Trusts("809a8d7ceb10b464") || !kr.Trusts("eb10b464") {
		t.Fatal("expected long and short ids to match")
	}
	if kr.Trusts("deadbeef") || kr.Trusts("b464") || kr.Trusts("") {
		t.Fatal("unexpected trust")
	}
	var nilRing *Keyring
	if nilRing.Trusts("eb10b464") {
		t.Fatal("nil keyring must trust nothing")
	}
}

func TestLoadKeyringReportsBadFiles(t *testing.T) {
	kr, errs := LoadKeyring([]string{"/nonexistent/key.asc"})
	if kr.Len() != 0 || len(errs) != 1 {
		t.Fatalf("expected one error and no keys, got %d keys %v", kr.Len(), errs)
	}
}
