package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"studyportal/internal/domain"
)

// Assignment is a graded piece of student work.
type Assignment struct {
	ID        string
	UserID    string
	Title     string
	Score     int  // percentage
	Graded    bool // false until a grade is recorded
	Feedback  string
	UpdatedAt time.Time
}

// AssignmentStore persists assignment records in SQLite.
type AssignmentStore struct {
	db *sql.DB
}

// NewAssignmentStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration. When seed is true, demo records are
// inserted if the table is empty.
func NewAssignmentStore(dbPath string, seed bool) (*AssignmentStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open assignment db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate assignment db: %w", err)
	}
	s := &AssignmentStore{db: db}
	if seed {
		if err := s.seedIfEmpty(); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed assignment db: %w", err)
		}
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS assignments (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL,
			score      INTEGER NOT NULL DEFAULT 0,
			graded     INTEGER NOT NULL DEFAULT 0,
			feedback   TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// seedIfEmpty inserts demo assignment records on first open.
func (s *AssignmentStore) seedIfEmpty() error {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM assignments").Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	demo := []Assignment{
		{ID: "a1", UserID: "demo", Title: "Python Basics", Score: 85, Graded: true,
			Feedback: "Solid grasp of fundamentals. Review list comprehensions."},
		{ID: "a2", UserID: "demo", Title: "Data Structures", Score: 92, Graded: true,
			Feedback: "Excellent work on trees and graphs."},
		{ID: "a3", UserID: "demo", Title: "Algorithms Project", Graded: false},
	}
	for _, a := range demo {
		if err := s.Put(context.Background(), a); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *AssignmentStore) Close() error {
	return s.db.Close()
}

// Put inserts or replaces an assignment record.
func (s *AssignmentStore) Put(_ context.Context, a Assignment) error {
	graded := 0
	if a.Graded {
		graded = 1
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO assignments (id, user_id, title, score, graded, feedback, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.UserID, a.Title, a.Score, graded, a.Feedback,
		a.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// Get fetches an assignment by ID.
func (s *AssignmentStore) Get(_ context.Context, id string) (*Assignment, error) {
	row := s.db.QueryRow(
		"SELECT id, user_id, title, score, graded, feedback, updated_at FROM assignments WHERE id = ?", id,
	)
	a, err := scanAssignment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewDomainError("AssignmentStore.Get", domain.ErrNotFound, "assignment "+id)
		}
		return nil, err
	}
	return a, nil
}

// FindByTitle fetches the first assignment whose title matches
// case-insensitively, or whose ID equals the query. Students tend to type
// either form when asked which assignment they mean.
func (s *AssignmentStore) FindByTitle(ctx context.Context, query string) (*Assignment, error) {
	q := strings.TrimSpace(query)
	row := s.db.QueryRow(
		"SELECT id, user_id, title, score, graded, feedback, updated_at FROM assignments WHERE id = ? OR LOWER(title) = LOWER(?) LIMIT 1",
		q, q,
	)
	a, err := scanAssignment(row)
	if err == nil {
		return a, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	// Fall back to substring match.
	row = s.db.QueryRow(
		"SELECT id, user_id, title, score, graded, feedback, updated_at FROM assignments WHERE LOWER(title) LIKE '%' || LOWER(?) || '%' LIMIT 1",
		q,
	)
	a, err = scanAssignment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewDomainError("AssignmentStore.FindByTitle", domain.ErrNotFound, q)
		}
		return nil, err
	}
	return a, nil
}

// ListForUser returns all assignments for a user ordered by title.
func (s *AssignmentStore) ListForUser(_ context.Context, userID string) ([]Assignment, error) {
	rows, err := s.db.Query(
		"SELECT id, user_id, title, score, graded, feedback, updated_at FROM assignments WHERE user_id = ? ORDER BY title",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row scanner) (*Assignment, error) {
	var a Assignment
	var graded int
	var updatedStr string
	if err := row.Scan(&a.ID, &a.UserID, &a.Title, &a.Score, &graded, &a.Feedback, &updatedStr); err != nil {
		return nil, err
	}
	a.Graded = graded != 0
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return &a, nil
}
