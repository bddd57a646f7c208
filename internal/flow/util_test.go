package flow

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReplaceToken(t *testing.T) {
	cases := []struct {
		name string
		in   string
		key  string
		repl string
		want string
	}{
		{"simple", "run --job %IN --out x", "IN", "/a/b", "run --job /a/b --out x"},
		{"end of string", "run %IN", "IN", "/a", "run /a"},
		{"multiple", "%IN %IN", "IN", "x", "x x"},
		{"no boundary capture", "run %IN %INPUT", "IN", "x", "run x %INPUT"},
		{"longer key intact", "run %INPUT", "IN", "x", "run %INPUT"},
		{"absent", "run --job", "IN", "x", "run --job"},
		{"punctuation boundary", "a=%OUT;", "OUT", "/o", "a=/o;"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ReplaceToken(tc.in, tc.key, tc.repl); got != tc.want {
				t.Errorf("ReplaceToken(%q, %q): got %q, want %q", tc.in, tc.key, got, tc.want)
			}
		})
	}
}

func TestHasToken(t *testing.T) {
	if !HasToken("run %IN", "IN") {
		t.Error("expected %IN to be found")
	}
	if HasToken("run %INPUT", "IN") {
		t.Error("%IN must not match inside %INPUT")
	}
	if !HasToken("run %INPUT %IN", "IN") {
		t.Error("expected trailing %IN to be found")
	}
	if HasToken("run", "IN") {
		t.Error("expected no token in plain string")
	}
}

func TestSymlink_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	target1 := filepath.Join(dir, "t1")
	target2 := filepath.Join(dir, "t2")
	for _, p := range []string{target1, target2} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	link := filepath.Join(dir, "link")

	if _, err := Symlink(target1, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if _, err := Symlink(target2, link); err != nil {
		t.Fatalf("Symlink overwrite: %v", err)
	}
	got, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if got != target2 {
		t.Errorf("link target: got %q, want %q", got, target2)
	}
}
