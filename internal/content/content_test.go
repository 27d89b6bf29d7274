package content

import (
	"os"
	"path/filepath"
	"testing"

	"lessonbot/internal/domain"
	logx "lessonbot/pkg/logx"
)

const sampleCurriculum = `
lessons:
  - day: 1
    text: "Welcome to day one."
    task:
      default: "Write down your goal."
      premium: "Write down your goal and record a voice note."
  - day: 2
    text: "Day two."
  - day: 5
    silent: true
  - day: 6
    text: "Day six."
    task:
      default: "Re-read your notes."
`

func loadSample(t *testing.T, body string) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "curriculum.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path, logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestLessonLookup(t *testing.T) {
	t.Parallel()
	c := loadSample(t, sampleCurriculum)

	if c.Len() != 4 {
		t.Fatalf("Len = %d, want 4", c.Len())
	}

	l, ok := c.Lesson(1, domain.TierBasic)
	if !ok || l.Text != "Welcome to day one." {
		t.Fatalf("day 1 lesson = %+v ok=%v", l, ok)
	}

	// Unauthored day: content not ready.
	if _, ok := c.Lesson(3, domain.TierBasic); ok {
		t.Fatal("day 3 should not be available")
	}

	// Silent day is not deliverable content.
	if !c.IsSilent(5) {
		t.Fatal("day 5 should be silent")
	}
	if _, ok := c.Lesson(5, domain.TierBasic); ok {
		t.Fatal("silent day should not yield a lesson")
	}
	if c.IsSilent(3) {
		t.Fatal("unauthored day is not silent")
	}
}

func TestTaskTextTierFallback(t *testing.T) {
	t.Parallel()
	c := loadSample(t, sampleCurriculum)

	txt, ok := c.TaskText(1, domain.TierPremium)
	if !ok || txt != "Write down your goal and record a voice note." {
		t.Fatalf("premium task = %q ok=%v", txt, ok)
	}

	txt, ok = c.TaskText(1, domain.TierBasic)
	if !ok || txt != "Write down your goal." {
		t.Fatalf("basic task fallback = %q ok=%v", txt, ok)
	}

	// Day without tasks.
	if _, ok := c.TaskText(2, domain.TierBasic); ok {
		t.Fatal("day 2 has no task")
	}
}

func TestLoadRejectsBadCurriculum(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "duplicate day", body: "lessons:\n  - day: 1\n    text: a\n  - day: 1\n    text: b\n"},
		{name: "day zero", body: "lessons:\n  - day: 0\n    text: a\n"},
		{name: "unknown field", body: "lessons:\n  - day: 1\n    txt: a\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "curriculum.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path, logx.Nop()); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestReloadKeepsSnapshotOnError(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "curriculum.yaml")
	if err := os.WriteFile(path, []byte(sampleCurriculum), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	// Break the file; reload must fail and keep the old snapshot.
	if err := os.WriteFile(path, []byte("lessons: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if _, ok := c.Lesson(1, domain.TierBasic); !ok {
		t.Fatal("previous snapshot should survive a broken reload")
	}
}
