package pathguard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func setupDirs(t *testing.T) (work, other, auditDir string) {
	t.Helper()
	base := t.TempDir()
	work = filepath.Join(base, "work")
	other = filepath.Join(base, "other")
	auditDir = filepath.Join(work, ".audit")
	if err := os.MkdirAll(work, 0o700); err != nil {
		t.Fatalf("MkdirAll(work): %v", err)
	}
	if err := os.MkdirAll(other, 0o700); err != nil {
		t.Fatalf("MkdirAll(other): %v", err)
	}
	if err := os.MkdirAll(auditDir, 0o700); err != nil {
		t.Fatalf("MkdirAll(auditDir): %v", err)
	}
	return work, other, auditDir
}

func TestCheckAllowsPathInsideAllowedRoot(t *testing.T) {
	work, _, auditDir := setupDirs(t)
	e, err := New([]string{work}, []string{auditDir}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resolved, err := e.Check(filepath.Join(work, "a.txt"), OpRead)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resolved != filepath.Join(work, "a.txt") {
		t.Errorf("resolved = %q, want %q", resolved, filepath.Join(work, "a.txt"))
	}
}

func TestCheckDeniesPathOutsideAllowedRoot(t *testing.T) {
	work, other, auditDir := setupDirs(t)
	e, err := New([]string{work}, []string{auditDir}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = e.Check(other, OpRead)
	if err == nil {
		t.Fatal("expected an error")
	}
	var denied *AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want a *AccessDeniedError", err)
	}
}

func TestCheckDeniesTraversalOutOfRoot(t *testing.T) {
	work, _, auditDir := setupDirs(t)
	e, err := New([]string{work}, []string{auditDir}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := e.Check(filepath.Join(work, "..", "other"), OpRead); err == nil {
		t.Fatal("expected an error")
	}
}

func TestCheckDeniesProtectedDirEvenInsideAllowedRoot(t *testing.T) {
	work, _, auditDir := setupDirs(t)
	e, err := New([]string{work}, []string{auditDir}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := e.Check(filepath.Join(auditDir, "x"), OpRead); err == nil {
		t.Fatal("expected an error")
	}
}

func TestNewRejectsEmptyRootsWithoutFallback(t *testing.T) {
	_, err := New(nil, nil, false)
	if !errors.Is(err, ErrNoAllowedRoots) {
		t.Errorf("err = %v, want %v", err, ErrNoAllowedRoots)
	}
}

func TestNewFallsBackToCwdWhenRequested(t *testing.T) {
	e, err := New(nil, nil, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !e.UsedCwdFallback() {
		t.Error("expected UsedCwdFallback() to be true")
	}
}
