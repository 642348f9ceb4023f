package staging_test

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	. "stagerun/pkg/staging"
)

func TestPackUnpack_Directory(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src")
	files := map[string]string{"a.txt": "alpha", "n/b.txt": "beta"}
	writeTree(t, src, files)

	var buf bytes.Buffer
	if _, err := Pack(&buf, src); err != nil {
		t.Fatalf("Pack() error: %v", err)
	}

	dst := filepath.Join(base, "dst")
	n, err := Unpack(&buf, dst)
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	if n != int64(len("alpha")+len("beta")) {
		t.Errorf("Unpack bytes = %d", n)
	}

	got := readTree(t, dst)
	for name, content := range files {
		if got[name] != content {
			t.Errorf("%s = %q, want %q", name, got[name], content)
		}
	}
}

func TestPackUnpack_SingleFile(t *testing.T) {
	base := t.TempDir()
	writeTree(t, base, map[string]string{"params.run": "x;input;1|\n"})

	var buf bytes.Buffer
	if _, err := Pack(&buf, filepath.Join(base, "params.run")); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(base, "out")
	if _, err := Unpack(&buf, dst); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "params.run"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "x;input;1|\n" {
		t.Errorf("content = %q", data)
	}
}

func writeTar(t *testing.T, entries ...*tar.Header) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, hdr := range entries {
		body := hdr.Linkname
		if hdr.Typeflag == tar.TypeReg {
			body = "pwned"
			hdr.Size = int64(len(body))
			hdr.Linkname = ""
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestUnpack_RefusesWritesThroughStreamSymlink(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(base, "outside")
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatal(err)
	}

	buf := writeTar(t,
		&tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: outside, Mode: 0o777},
		&tar.Header{Name: "link/evil", Typeflag: tar.TypeReg, Mode: 0o644},
	)
	if _, err := Unpack(buf, filepath.Join(base, "dst")); err == nil {
		t.Fatal("Unpack() succeeded writing through a symlink")
	}
	if _, err := os.Stat(filepath.Join(outside, "evil")); !os.IsNotExist(err) {
		t.Errorf("file written outside destination: %v", err)
	}
}

func TestUnpack_ReplacesSymlinkInsteadOfFollowing(t *testing.T) {
	base := t.TempDir()
	victim := filepath.Join(base, "victim")
	if err := os.WriteFile(victim, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	buf := writeTar(t,
		&tar.Header{Name: "f", Typeflag: tar.TypeSymlink, Linkname: victim, Mode: 0o777},
		&tar.Header{Name: "f", Typeflag: tar.TypeReg, Mode: 0o644},
	)
	dst := filepath.Join(base, "dst")
	if _, err := Unpack(buf, dst); err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}

	if data, _ := os.ReadFile(victim); string(data) != "keep" {
		t.Errorf("victim = %q, want unchanged", data)
	}
	info, err := os.Lstat(filepath.Join(dst, "f"))
	if err != nil || !info.Mode().IsRegular() {
		t.Errorf("dst/f should be a regular file: %v %v", info, err)
	}
}

func TestUnpack_KeepsSymlinkEntries(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "dst")
	buf := writeTar(t, &tar.Header{Name: "latest", Typeflag: tar.TypeSymlink, Linkname: "run-1", Mode: 0o777})

	if _, err := Unpack(buf, dst); err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	if got, err := os.Readlink(filepath.Join(dst, "latest")); err != nil || got != "run-1" {
		t.Errorf("Readlink = %q, %v", got, err)
	}
}
