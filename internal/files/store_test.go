package files

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), 1) // 1 MB cap
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSaveListDelete(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Save(1, "bot.py", strings.NewReader("print('hi')\n")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Save(1, "helper.py", strings.NewReader("x = 1\n")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := s.List(1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "bot.py" || entries[1].Name != "helper.py" {
		t.Fatalf("List = %+v", entries)
	}
	if entries[0].Size != int64(len("print('hi')\n")) {
		t.Errorf("Size = %d", entries[0].Size)
	}

	f, err := s.Open(1, "bot.py")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(f)
	f.Close()
	if string(data) != "print('hi')\n" {
		t.Errorf("content = %q", data)
	}

	if err := s.Delete(1, "bot.py"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Open(1, "bot.py"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesRunLog(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Save(1, "bot.py", strings.NewReader("pass\n")); err != nil {
		t.Fatal(err)
	}
	dir, _ := s.Dir(1)
	if err := os.WriteFile(filepath.Join(dir, "bot.log"), []byte("output"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(1, "bot.py"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bot.log")); !errors.Is(err, os.ErrNotExist) {
		t.Error("companion log survived delete")
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Save(1, "bot.py", strings.NewReader("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(2, "bot.py"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other owner sees the file: %v", err)
	}
}

func TestInvalidNames(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{
		"", ".", "..", "../bot.py", "a/b.py", `a\b.py`, "/etc/passwd", ".hidden",
	} {
		if _, err := s.Resolve(1, name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Resolve(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestSaveTooLarge(t *testing.T) {
	s := newTestStore(t)

	big := bytes.Repeat([]byte("x"), (1<<20)+1)
	if _, err := s.Save(1, "big.py", bytes.NewReader(big)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Save = %v, want ErrTooLarge", err)
	}
	if _, err := s.Open(1, "big.py"); !errors.Is(err, ErrNotFound) {
		t.Error("partial file left behind")
	}
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractZip(t *testing.T) {
	s := newTestStore(t)

	data := buildZip(t, map[string]string{
		"bot.py":        "print('hi')\n",
		"lib/helper.py": "x = 1\n",
	})
	names, err := s.ExtractZip(1, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("ExtractZip: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v", names)
	}

	dir, _ := s.Dir(1)
	body, err := os.ReadFile(filepath.Join(dir, "lib", "helper.py"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(body) != "x = 1\n" {
		t.Errorf("content = %q", body)
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"../evil.py", "/abs.py", "a/../../evil.py"} {
		data := buildZip(t, map[string]string{name: "boom"})
		if _, err := s.ExtractZip(1, bytes.NewReader(data), int64(len(data))); !errors.Is(err, ErrArchiveInvalid) {
			t.Errorf("ExtractZip(%q) = %v, want ErrArchiveInvalid", name, err)
		}
	}
}

func TestExtractZipEntryCap(t *testing.T) {
	s := newTestStore(t)

	entries := make(map[string]string, maxArchiveEntries+1)
	for i := 0; i <= maxArchiveEntries; i++ {
		entries[fmt.Sprintf("f%04d.txt", i)] = "x"
	}
	data := buildZip(t, entries)
	if _, err := s.ExtractZip(1, bytes.NewReader(data), int64(len(data))); !errors.Is(err, ErrArchiveInvalid) {
		t.Errorf("ExtractZip = %v, want ErrArchiveInvalid", err)
	}
}
