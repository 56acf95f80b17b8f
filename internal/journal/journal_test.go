package journal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJournal_RecordModifiedAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	if j.IsModified("src/main.go") {
		t.Fatal("IsModified true before any record")
	}
	if err := j.RecordModified("src/main.go"); err != nil {
		t.Fatalf("RecordModified: %v", err)
	}
	if !j.IsModified("src/main.go") {
		t.Error("IsModified false after RecordModified")
	}
}

func TestJournal_RecordModifiedFolderAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	if j.IsModifiedFolder("src") {
		t.Fatal("IsModifiedFolder true before any record")
	}
	if err := j.RecordModifiedFolder("src"); err != nil {
		t.Fatalf("RecordModifiedFolder: %v", err)
	}
	if !j.IsModifiedFolder("src") {
		t.Error("IsModifiedFolder false after RecordModifiedFolder")
	}
	if !j.IsModified("src") {
		t.Error("a modified folder should also read as modified, same as a modified file")
	}

	j2reopen, err := Open(path)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer j2reopen.Close()
	if !j2reopen.IsModifiedFolder("src") {
		t.Error("modified-folder record should survive reopen")
	}
}

func TestJournal_RecordTombstoneAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	if err := j.RecordTombstone("deleted.txt"); err != nil {
		t.Fatalf("RecordTombstone: %v", err)
	}
	if !j.IsTombstoned("deleted.txt") {
		t.Error("IsTombstoned false after RecordTombstone")
	}
	if j.IsModified("deleted.txt") {
		t.Error("a tombstoned path should not also read as modified")
	}
}

func TestJournal_DuplicateAppendsAreAllowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	for i := 0; i < 3; i++ {
		if err := j.RecordModified("same.txt"); err != nil {
			t.Fatalf("RecordModified[%d]: %v", i, err)
		}
	}
	entries := j.Enumerate()
	if len(entries) != 1 || entries[0] != "same.txt" {
		t.Errorf("Enumerate = %v, want de-duped [same.txt]", entries)
	}
}

func TestJournal_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")

	j1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := j1.RecordModified("a.txt"); err != nil {
		t.Fatalf("RecordModified: %v", err)
	}
	if err := j1.RecordTombstone("b.txt"); err != nil {
		t.Fatalf("RecordTombstone: %v", err)
	}
	if err := j1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer j2.Close()

	if !j2.IsModified("a.txt") {
		t.Error("a.txt should be modified after reopen")
	}
	if !j2.IsTombstoned("b.txt") {
		t.Error("b.txt should be tombstoned after reopen")
	}
}

func TestJournal_TruncatedTrailingRecordIsTolerated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")

	j1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := j1.RecordModified("complete.txt"); err != nil {
		t.Fatalf("RecordModified: %v", err)
	}
	if err := j1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-append: a sigil byte and partial path with no
	// NUL terminator appended directly to the file.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("reopen for corruption: %v", err)
	}
	if _, err := f.Write([]byte{sigilModified, 'p', 'a', 'r', 't'}); err != nil {
		t.Fatalf("write partial record: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("Open over truncated file: %v", err)
	}
	defer j2.Close()

	if !j2.IsModified("complete.txt") {
		t.Error("the complete record before the truncated one should still load")
	}
	if j2.IsModified("part") {
		t.Error("the truncated trailing record should not have been loaded")
	}
}

func TestJournal_NormalizesBackslashes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	if err := j.RecordModified(`src\main.go`); err != nil {
		t.Fatalf("RecordModified: %v", err)
	}
	if !j.IsModified("src/main.go") {
		t.Error("backslash path should normalize to forward slashes")
	}
}

func TestJournal_Enumerate_CombinesModifiedAndTombstoned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	j.RecordModified("m1.txt")
	j.RecordModified("m2.txt")
	j.RecordTombstone("t1.txt")

	got := j.Enumerate()
	want := []string{"m1.txt", "m2.txt", "t1.txt"}
	if len(got) != len(want) {
		t.Fatalf("Enumerate = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Enumerate[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
