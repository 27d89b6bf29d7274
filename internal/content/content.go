// Package content serves curriculum lessons to the engines.
//
// The curriculum is a YAML file authored out-of-band. It is loaded into an
// immutable snapshot and atomically swapped on reload, so a half-written
// file can never be observed by a tick: the previous snapshot stays active
// until the new one parses cleanly.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	"lessonbot/internal/domain"
	logx "lessonbot/pkg/logx"
)

// Lesson is one curriculum day's content.
type Lesson struct {
	Day    int               `yaml:"day"`
	Silent bool              `yaml:"silent,omitempty"`
	Text   string            `yaml:"text,omitempty"`
	Task   map[string]string `yaml:"task,omitempty"`
}

// taskDefaultKey is the fallback task text when a tier has no dedicated entry.
const taskDefaultKey = "default"

type curriculum struct {
	Lessons []Lesson `yaml:"lessons"`
}

type snapshot struct {
	byDay map[int]Lesson
}

// Catalog answers "what does day N look like" for both engines.
type Catalog struct {
	path string
	log  logx.Logger

	snap atomic.Value // stores *snapshot
}

func Load(path string, log logx.Logger) (*Catalog, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Catalog{path: path, log: log}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) reload() error {
	b, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var cur curriculum
	if err := dec.Decode(&cur); err != nil {
		return fmt.Errorf("curriculum %s: %w", c.path, err)
	}
	// A second document in the file is an authoring mistake.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("curriculum %s: trailing document", c.path)
	}

	byDay := make(map[int]Lesson, len(cur.Lessons))
	for _, l := range cur.Lessons {
		if l.Day < 1 {
			return fmt.Errorf("curriculum %s: lesson day %d out of range", c.path, l.Day)
		}
		if _, dup := byDay[l.Day]; dup {
			return fmt.Errorf("curriculum %s: duplicate lesson day %d", c.path, l.Day)
		}
		byDay[l.Day] = l
	}

	c.snap.Store(&snapshot{byDay: byDay})
	c.log.Info("curriculum loaded", logx.String("path", c.path), logx.Int("lessons", len(byDay)))
	return nil
}

func (c *Catalog) current() *snapshot {
	v, _ := c.snap.Load().(*snapshot)
	if v == nil {
		return &snapshot{byDay: map[int]Lesson{}}
	}
	return v
}

// Len returns the number of authored lesson days.
func (c *Catalog) Len() int { return len(c.current().byDay) }

// IsSilent reports whether the day is configured to send nothing.
// An unauthored day is not silent; it is "content not ready".
func (c *Catalog) IsSilent(day int) bool {
	l, ok := c.current().byDay[day]
	return ok && l.Silent
}

// Lesson returns the day's content for the given tier. ok is false when the
// day has not been authored yet (the delivery engine retries next tick) or
// when the day is silent.
func (c *Catalog) Lesson(day int, tier domain.Tier) (Lesson, bool) {
	l, ok := c.current().byDay[day]
	if !ok || l.Silent || strings.TrimSpace(l.Text) == "" {
		return Lesson{}, false
	}
	return l, true
}

// TaskText returns the day's task text for the tier, falling back to the
// default entry. ok is false if the day has no task at all.
func (c *Catalog) TaskText(day int, tier domain.Tier) (string, bool) {
	l, ok := c.current().byDay[day]
	if !ok || len(l.Task) == 0 {
		return "", false
	}
	if txt, ok := l.Task[string(tier)]; ok && strings.TrimSpace(txt) != "" {
		return txt, true
	}
	txt, ok := l.Task[taskDefaultKey]
	if !ok || strings.TrimSpace(txt) == "" {
		return "", false
	}
	return txt, true
}

// Watch hot-reloads the curriculum on file change until ctx is canceled.
// A broken edit keeps the previous snapshot active. This is how "content
// not ready" gaps get filled without restarting the bot.
func (c *Catalog) Watch(ctx context.Context) error {
	dir := filepath.Dir(c.path)
	file := filepath.Base(c.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if err := c.reload(); err != nil {
				c.log.Warn("curriculum reload failed; keeping previous snapshot",
					logx.String("path", c.path), logx.Err(err))
			}
		})
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
					debounce()
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				c.log.Warn("curriculum watch error", logx.Err(err), logx.String("dir", dir))
			}
		}
	}
}
