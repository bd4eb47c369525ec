package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestPathsAreJobUnique(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	if a.Token() == b.Token() {
		t.Fatal("Two jobs received the same token")
	}
	for _, kind := range []Kind{IntermediateVideo, RawAudio, ShiftedAudio} {
		pa, pb := a.Path(kind), b.Path(kind)
		if pa == pb {
			t.Errorf("Kind %s collides across jobs: %s", kind, pa)
		}
		if !strings.Contains(filepath.Base(pa), a.Token()) {
			t.Errorf("Path %s does not embed job token", pa)
		}
	}
}

func TestCleanupRemovesEverything(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	video := m.Path(IntermediateVideo)
	raw := m.Path(RawAudio)
	_ = m.Path(ShiftedAudio) // registered but never created
	touch(t, video)
	touch(t, raw)

	if err := m.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if exists(video) || exists(raw) {
		t.Error("Artifacts still on disk after Cleanup")
	}

	// Idempotent
	if err := m.Cleanup(); err != nil {
		t.Errorf("Second Cleanup failed: %v", err)
	}
}

func TestStagedOutputPromotion(t *testing.T) {
	tmp := t.TempDir()
	outDir := t.TempDir()
	m, err := New(tmp, nil)
	if err != nil {
		t.Fatal(err)
	}

	final := filepath.Join(outDir, "result.mkv")
	staged := m.StagedPath(final)
	if filepath.Dir(staged) != outDir {
		t.Errorf("Staged output must live next to the final output, got %s", staged)
	}
	if filepath.Ext(staged) != ".mkv" {
		t.Errorf("Staged output must keep the container extension, got %s", staged)
	}

	touch(t, staged)
	if err := m.Promote(staged, final); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if err := m.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if !exists(final) {
		t.Error("Cleanup must never remove the promoted output")
	}
}

func TestCleanupRemovesUnpromotedOutput(t *testing.T) {
	outDir := t.TempDir()
	m, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	final := filepath.Join(outDir, "result.mp4")
	staged := m.StagedPath(final)
	touch(t, staged)

	if err := m.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if exists(staged) || exists(final) {
		t.Error("A failed job must leave neither staged nor final output")
	}
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	orphan := filepath.Join(dir, Prefix+"dead-video.mp4")
	hidden := filepath.Join(dir, "."+Prefix+"dead-output.mp4")
	keep := filepath.Join(dir, "holiday.mp4")
	touch(t, orphan)
	touch(t, hidden)
	touch(t, keep)

	removed, err := Sweep(dir)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("Expected 2 removed files, got %v", removed)
	}
	if !exists(keep) {
		t.Error("Sweep removed an unrelated file")
	}
}
