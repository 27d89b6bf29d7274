// Package store persists participant state in SQLite.
//
// Both engines share one Store. Updates are per-field (guarded UPDATE
// statements), never whole-row overwrites, so the delivery engine's day
// cursor and the reminder engine's timestamp cannot clobber each other.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"lessonbot/internal/domain"
	logx "lessonbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrConflict means a guarded update matched no row: either the record is
// gone or another writer got there first. Callers treat it as "someone else
// already did this" and move on.
var ErrConflict = errors.New("store: conflicting update")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && !strings.HasPrefix(cfg.Path, ":") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enroll creates or re-creates a participant's scheduling state. It is the
// enrollment flow's single write; the engines only ever touch single fields
// afterwards.
func (s *Store) Enroll(ctx context.Context, p domain.Participant) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants
		   (id, access_tier, start_moment, current_day, delivery_time, reminder_freq, reminder_window, last_reminder_at, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   access_tier=excluded.access_tier,
		   start_moment=excluded.start_moment,
		   current_day=excluded.current_day,
		   delivery_time=excluded.delivery_time,
		   reminder_freq=excluded.reminder_freq,
		   reminder_window=excluded.reminder_window,
		   last_reminder_at=excluded.last_reminder_at,
		   updated_at=excluded.updated_at`,
		p.ID, nullTier(p.Tier), p.StartMoment.UTC().Format(time.RFC3339Nano), p.CurrentDay,
		nullClockTime(p.DeliveryTime), p.ReminderFreq, nullWindow(p.ReminderWindow),
		nullInstant(p.LastReminderAt), now, now,
	)
	return err
}

// ListActive returns all enrolled participants (non-null access tier).
// Snapshot consistency across calls is not required by the engines.
func (s *Store) ListActive(ctx context.Context) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, access_tier, start_moment, current_day, delivery_time, reminder_freq, reminder_window, last_reminder_at
		   FROM participants
		  WHERE access_tier IS NOT NULL
		  ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get returns a single participant.
func (s *Store) Get(ctx context.Context, id int64) (domain.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, access_tier, start_moment, current_day, delivery_time, reminder_freq, reminder_window, last_reminder_at
		   FROM participants WHERE id = ?`, id)
	return scanParticipant(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(r rowScanner) (domain.Participant, error) {
	var (
		p            domain.Participant
		tier         sql.NullString
		startMoment  string
		deliveryTime sql.NullString
		window       sql.NullString
		lastReminder sql.NullString
	)
	if err := r.Scan(&p.ID, &tier, &startMoment, &p.CurrentDay, &deliveryTime, &p.ReminderFreq, &window, &lastReminder); err != nil {
		return domain.Participant{}, err
	}

	if tier.Valid {
		p.Tier = domain.Tier(tier.String)
	}
	start, err := time.Parse(time.RFC3339Nano, startMoment)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("participant %d: bad start_moment: %w", p.ID, err)
	}
	p.StartMoment = start

	if deliveryTime.Valid {
		ct, err := domain.ParseClockTime(deliveryTime.String)
		if err != nil {
			return domain.Participant{}, fmt.Errorf("participant %d: bad delivery_time: %w", p.ID, err)
		}
		p.DeliveryTime = &ct
	}
	if window.Valid {
		w, err := domain.ParseWindow(window.String)
		if err != nil {
			return domain.Participant{}, fmt.Errorf("participant %d: bad reminder_window: %w", p.ID, err)
		}
		p.ReminderWindow = &w
	}
	if lastReminder.Valid {
		at, err := time.Parse(time.RFC3339Nano, lastReminder.String)
		if err != nil {
			return domain.Participant{}, fmt.Errorf("participant %d: bad last_reminder_at: %w", p.ID, err)
		}
		p.LastReminderAt = &at
	}
	return p, nil
}

// AdvanceDay moves the day cursor from exactly `from` to `to`. The guard on
// the previous value makes the advance idempotent under races: a second
// writer sees ErrConflict instead of double-advancing.
func (s *Store) AdvanceDay(ctx context.Context, id int64, from, to int) error {
	if to < from {
		return fmt.Errorf("store: day cursor must not decrease (%d -> %d)", from, to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET current_day = ?, updated_at = ?
		  WHERE id = ? AND current_day = ?`,
		to, time.Now().UTC().Format(time.RFC3339Nano), id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// SetLastReminder records a sent nudge. The guard keeps the timestamp
// monotonic even if two workers race.
func (s *Store) SetLastReminder(ctx context.Context, id int64, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET last_reminder_at = ?, updated_at = ?
		  WHERE id = ? AND (last_reminder_at IS NULL OR last_reminder_at <= ?)`,
		ts, time.Now().UTC().Format(time.RFC3339Nano), id, ts)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ActivityFlag reports whether the participant has begun or completed the
// task for the given day. Written by the submission subsystem; the reminder
// engine only reads it.
func (s *Store) ActivityFlag(ctx context.Context, id int64, day int) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM assignment_activity WHERE participant_id = ? AND day = ?`, id, day).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetActivityFlag marks the day's task as touched. Idempotent.
func (s *Store) SetActivityFlag(ctx context.Context, id int64, day int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignment_activity (participant_id, day, updated_at) VALUES (?,?,?)
		 ON CONFLICT(participant_id, day) DO NOTHING`,
		id, day, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// LogDelivery appends a delivery audit row. The (participant, day) primary
// key means a duplicate insert is a no-op, matching at-most-once delivery.
func (s *Store) LogDelivery(ctx context.Context, id int64, day int, at time.Time, late bool) error {
	lateInt := 0
	if late {
		lateInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log (participant_id, day, delivered_at, late) VALUES (?,?,?,?)
		 ON CONFLICT(participant_id, day) DO NOTHING`,
		id, day, at.UTC().Format(time.RFC3339Nano), lateInt)
	return err
}

// PruneDeliveryLog deletes audit rows older than the cutoff and returns the
// number removed.
func (s *Store) PruneDeliveryLog(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM delivery_log WHERE delivered_at < ?`,
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountDeliveriesSince returns how many lessons were delivered at or after
// the given instant (used by the daily maintenance summary).
func (s *Store) CountDeliveriesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_log WHERE delivered_at >= ?`,
		since.UTC().Format(time.RFC3339Nano)).Scan(&n)
	return n, err
}

func nullTier(t domain.Tier) any {
	if t == domain.TierNone {
		return nil
	}
	return string(t)
}

func nullClockTime(t *domain.ClockTime) any {
	if t == nil {
		return nil
	}
	return t.String()
}

func nullWindow(w *domain.Window) any {
	if w == nil {
		return nil
	}
	return w.String()
}

func nullInstant(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
