// Package session records bakes into a SQLite database.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/itohio/goreflow/pkg/sample"
	"github.com/itohio/goreflow/pkg/trajectory"
)

// ErrUnknownSession is returned for session IDs not in the database.
var ErrUnknownSession = errors.New("session: unknown session")

// Session describes one recorded run. Sessions opened by samples arriving outside of
// a bake have an empty Profile.
type Session struct {
	ID           string    `json:"id"`
	Profile      string    `json:"profile"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`   // Zero while the session is active
	StartElapsed float64   `json:"start_elapsed"` // Oven elapsed seconds at the start of the session
	Timebase     float64   `json:"timebase"`
	Peak         float64   `json:"peak"`
	Samples      int       `json:"samples"`
}

// TrajectoryPoint is one stored setpoint.
type TrajectoryPoint struct {
	Index       int                  `json:"index"`
	Time        float64              `json:"t"` // Seconds since the session start
	Temperature float64              `json:"temperature"`
	Phase       trajectory.PhaseName `json:"phase"`
}

// Recorder is a visualization sink that persists samples and trajectories.
type Recorder struct {
	db  *sql.DB
	now func() time.Time

	mu          sync.Mutex
	active      string
	lastElapsed float64
}

// Open opens or creates the database at path and brings its schema up to date.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open session database %s: %w", path, err)
	}
	// One connection keeps pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)

	r := &Recorder{db: db, now: time.Now}
	if err := r.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close finishes the active session and closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.finishActive(); err != nil {
		log.Printf("session: failed to finish %s: %v", r.active, err)
	}
	r.active = ""
	return r.db.Close()
}

// Active returns the ID of the session samples are recorded into, if any.
func (r *Recorder) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Trajectory starts a new session for the bake and stores its setpoints.
func (r *Recorder) Trajectory(t trajectory.Trajectory) {
	if _, err := r.RecordTrajectory(t); err != nil {
		log.Printf("session: failed to record trajectory %s: %v", t.Profile, err)
	}
}

// Sample appends a temperature to the active session.
func (r *Recorder) Sample(elapsed, temperature float64) {
	if err := r.RecordSample(elapsed, temperature); err != nil {
		log.Printf("session: failed to record sample: %v", err)
	}
}

// RecordTrajectory finishes the active session, starts a new one for t and returns
// its ID.
func (r *Recorder) RecordTrajectory(t trajectory.Trajectory) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.finishActive(); err != nil {
		return "", err
	}
	r.active = ""

	id := uuid.NewString()
	tx, err := r.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO sessions (id, profile, started_at, start_elapsed, timebase) VALUES (?, ?, ?, ?, ?)`,
		id, t.Profile, r.now().UTC(), r.lastElapsed, t.Timebase,
	); err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO trajectory_points (session_id, idx, time, temperature, phase) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare trajectory insert: %w", err)
	}
	defer stmt.Close()

	for _, ph := range t.Phases {
		for i := ph.Start; i < ph.End; i++ {
			if _, err := stmt.Exec(id, i, t.Times[i], t.Temps[i], string(ph.Name)); err != nil {
				return "", fmt.Errorf("failed to insert trajectory point %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit trajectory: %w", err)
	}
	r.active = id
	return id, nil
}

// RecordSample appends a temperature to the active session, opening an unnamed one if
// no bake has started yet.
func (r *Recorder) RecordSample(elapsed, temperature float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastElapsed = elapsed
	if r.active == "" {
		id := uuid.NewString()
		if _, err := r.db.Exec(
			`INSERT INTO sessions (id, started_at, start_elapsed) VALUES (?, ?, ?)`,
			id, r.now().UTC(), elapsed,
		); err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		r.active = id
	}

	if _, err := r.db.Exec(
		`INSERT INTO samples (session_id, elapsed, temperature) VALUES (?, ?, ?)`,
		r.active, elapsed, temperature,
	); err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	if _, err := r.db.Exec(
		`UPDATE sessions SET peak = MAX(COALESCE(peak, ?), ?) WHERE id = ?`,
		temperature, temperature, r.active,
	); err != nil {
		return fmt.Errorf("failed to update peak: %w", err)
	}
	return nil
}

func (r *Recorder) finishActive() error {
	if r.active == "" {
		return nil
	}
	if _, err := r.db.Exec(`UPDATE sessions SET finished_at = ? WHERE id = ?`, r.now().UTC(), r.active); err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return nil
}

// Sessions lists recorded sessions, oldest first.
func (r *Recorder) Sessions() ([]Session, error) {
	return r.querySessions("")
}

// Session returns one session.
func (r *Recorder) Session(id string) (Session, error) {
	sessions, err := r.querySessions("WHERE s.id = ?", id)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return sessions[0], nil
}

func (r *Recorder) querySessions(where string, args ...any) ([]Session, error) {
	rows, err := r.db.Query(`
		SELECT s.id, s.profile, s.started_at, s.finished_at, s.start_elapsed, s.timebase,
		       COALESCE(s.peak, 0), (SELECT COUNT(*) FROM samples WHERE session_id = s.id)
		FROM sessions s `+where+`
		ORDER BY s.started_at, s.rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		var s Session
		var finished sql.NullTime
		if err := rows.Scan(&s.ID, &s.Profile, &s.StartedAt, &finished, &s.StartElapsed, &s.Timebase, &s.Peak, &s.Samples); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if finished.Valid {
			s.FinishedAt = finished.Time
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Samples returns the samples of a session as elapsed time / temperature points.
func (r *Recorder) Samples(id string) ([]sample.Point, error) {
	if err := r.exists(id); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`SELECT elapsed, temperature FROM samples WHERE session_id = ? ORDER BY elapsed, rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var result []sample.Point
	for rows.Next() {
		var p sample.Point
		if err := rows.Scan(&p.Time, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Points returns the stored trajectory of a session.
func (r *Recorder) Points(id string) ([]TrajectoryPoint, error) {
	if err := r.exists(id); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`SELECT idx, time, temperature, phase FROM trajectory_points WHERE session_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query trajectory: %w", err)
	}
	defer rows.Close()

	var result []TrajectoryPoint
	for rows.Next() {
		var p TrajectoryPoint
		var phase string
		if err := rows.Scan(&p.Index, &p.Time, &p.Temperature, &phase); err != nil {
			return nil, fmt.Errorf("failed to scan trajectory point: %w", err)
		}
		p.Phase = trajectory.PhaseName(phase)
		result = append(result, p)
	}
	return result, rows.Err()
}

// Delete removes a session with its samples and trajectory.
func (r *Recorder) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if r.active == id {
		r.active = ""
	}
	return nil
}

func (r *Recorder) exists(id string) error {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return nil
}
