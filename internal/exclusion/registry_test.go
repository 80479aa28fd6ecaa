package exclusion

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type staticResolver map[string]string

func (s staticResolver) OwnerForUsername(username string) (string, bool) {
	owner, ok := s[username]
	return owner, ok
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write exclusion file: %v", err)
	}
}

func TestRefreshLoadsSets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclusions.txt")
	writeFile(t, path, "# comment\n\nalice permanent\nbob temporary\n")

	resolver := staticResolver{"alice": "owner-alice", "bob": "owner-bob"}
	reg := New(path, resolver)

	if err := reg.Refresh(time.Now()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if !reg.IsPermanent("owner-alice") {
		t.Error("expected owner-alice to be permanently excluded")
	}
	if !reg.IsTemporary("owner-bob") {
		t.Error("expected owner-bob to be temporarily excluded")
	}
	if reg.IsExcluded("owner-carol") {
		t.Error("did not expect owner-carol to be excluded")
	}
}

func TestRefreshDebounces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclusions.txt")
	writeFile(t, path, "alice permanent\n")
	resolver := staticResolver{"alice": "owner-alice"}
	reg := New(path, resolver)

	now := time.Now()
	if err := reg.Refresh(now); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}

	// Change the file, but call Refresh before the debounce window elapses:
	// the reload must not happen yet.
	future := now.Add(2 * time.Hour)
	writeFile(t, path, "alice permanent\nbob temporary\n")
	os.Chtimes(path, future, future)
	if err := reg.Refresh(now.Add(1 * time.Second)); err != nil {
		t.Fatalf("debounced refresh returned error: %v", err)
	}
	if reg.IsTemporary("owner-bob") {
		t.Error("expected debounced refresh to skip the reload")
	}

	// With a resolver that knows bob, a fresh registry's first refresh picks
	// up the new entry, and a refresh past the debounce window (file
	// unchanged since) keeps it.
	reg2 := New(path, staticResolver{"alice": "owner-alice", "bob": "owner-bob"})
	if err := reg2.Refresh(now); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if err := reg2.Refresh(now.Add(debounce + time.Second)); err != nil {
		t.Fatalf("post-debounce refresh failed: %v", err)
	}
	if !reg2.IsTemporary("owner-bob") {
		t.Error("expected owner-bob to stay excluded after the post-debounce refresh")
	}
}

func TestRefreshRetainsPreviousSetsOnSyntaxError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclusions.txt")
	writeFile(t, path, "alice permanent\n")
	resolver := staticResolver{"alice": "owner-alice"}
	reg := New(path, resolver)

	base := time.Now()
	if err := reg.Refresh(base); err != nil {
		t.Fatalf("initial refresh failed: %v", err)
	}

	future := base.Add(time.Hour)
	writeFile(t, path, "alice malformed line here\n")
	os.Chtimes(path, future, future)

	if err := reg.Refresh(base.Add(debounce + time.Second)); err == nil {
		t.Fatal("expected refresh to report the syntax error")
	}
	if !reg.IsPermanent("owner-alice") {
		t.Error("expected previous permanent set to be retained after a bad reload")
	}
}

func TestRefreshRejectsUnknownUsername(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclusions.txt")
	writeFile(t, path, "ghost permanent\n")
	reg := New(path, staticResolver{})

	if err := reg.Refresh(time.Now()); err == nil {
		t.Fatal("expected an error for an unknown username")
	}
	if reg.IsExcluded("ghost") {
		t.Error("did not expect any owner to be excluded after a failed reload")
	}
}
