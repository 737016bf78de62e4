package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Lesson is distilled, reusable guidance, optionally traced to one pattern.
// Current confidence is never stored post-decay; readers recompute it from
// InitialConfidence, DecayConstant, and LastValidated.
type Lesson struct {
	ID        int64    `json:"id"`
	Statement string   `json:"statement"`
	PatternID *int64   `json:"pattern_id,omitempty"`
	Contexts  []string `json:"contexts,omitempty"`

	InitialConfidence float64   `json:"initial_confidence"`
	DecayConstant     float64   `json:"decay_constant"`
	LastValidated     time.Time `json:"last_validated"`

	TimesApplied   int `json:"times_applied"`
	TimesSucceeded int `json:"times_succeeded"`

	CreatedAt    time.Time  `json:"created_at"`
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`
}

// Deprecated reports whether the lesson has been permanently excluded from
// active queries.
func (l *Lesson) Deprecated() bool {
	return l.DeprecatedAt != nil
}

const lessonColumns = `id, statement, pattern_id, contexts,
	initial_confidence, decay_constant, last_validated,
	times_applied, times_succeeded, created_at, deprecated_at`

// InsertLesson persists a new lesson and returns its assigned id.
func (s *Store) InsertLesson(ctx context.Context, l *Lesson) (int64, error) {
	contexts, err := marshalStrings(l.Contexts)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lessons (statement, pattern_id, contexts,
			initial_confidence, decay_constant, last_validated,
			times_applied, times_succeeded, created_at, deprecated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Statement, l.PatternID, contexts,
		l.InitialConfidence, l.DecayConstant, millis(l.LastValidated),
		l.TimesApplied, l.TimesSucceeded, millis(l.CreatedAt), nullTime(l.DeprecatedAt))
	if err != nil {
		return 0, fmt.Errorf("inserting lesson: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading lesson id: %w", err)
	}
	l.ID = id
	return id, nil
}

// GetLesson retrieves one lesson by id, or ErrRowNotFound.
func (s *Store) GetLesson(ctx context.Context, id int64) (*Lesson, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = ?`, id)
	l, err := scanLesson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting lesson %d: %w", id, err)
	}
	return l, nil
}

// UpdateLesson persists all mutable fields of the lesson.
func (s *Store) UpdateLesson(ctx context.Context, l *Lesson) error {
	contexts, err := marshalStrings(l.Contexts)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE lessons SET statement = ?, pattern_id = ?, contexts = ?,
			initial_confidence = ?, decay_constant = ?, last_validated = ?,
			times_applied = ?, times_succeeded = ?, deprecated_at = ?
		WHERE id = ?`,
		l.Statement, l.PatternID, contexts,
		l.InitialConfidence, l.DecayConstant, millis(l.LastValidated),
		l.TimesApplied, l.TimesSucceeded, nullTime(l.DeprecatedAt), l.ID)
	if err != nil {
		return fmt.Errorf("updating lesson %d: %w", l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading lesson update count: %w", err)
	}
	if n == 0 {
		return ErrRowNotFound
	}
	return nil
}

// ActiveLessons returns all non-deprecated lessons in insertion order.
// Confidence decay and threshold filtering happen at the engine layer, since
// decayed confidence is a read-time projection.
func (s *Store) ActiveLessons(ctx context.Context) ([]*Lesson, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+lessonColumns+` FROM lessons
		WHERE deprecated_at IS NULL
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying active lessons: %w", err)
	}
	return collectLessons(rows)
}

func scanLesson(row rowScanner) (*Lesson, error) {
	var (
		l             Lesson
		patternID     sql.NullInt64
		contextsRaw   string
		lastValidated int64
		createdAt     int64
		deprecatedAt  sql.NullInt64
	)
	err := row.Scan(&l.ID, &l.Statement, &patternID, &contextsRaw,
		&l.InitialConfidence, &l.DecayConstant, &lastValidated,
		&l.TimesApplied, &l.TimesSucceeded, &createdAt, &deprecatedAt)
	if err != nil {
		return nil, err
	}
	if patternID.Valid {
		v := patternID.Int64
		l.PatternID = &v
	}
	l.LastValidated = fromMillis(lastValidated)
	l.CreatedAt = fromMillis(createdAt)
	if deprecatedAt.Valid {
		t := fromMillis(deprecatedAt.Int64)
		l.DeprecatedAt = &t
	}
	if l.Contexts, err = unmarshalStrings(contextsRaw); err != nil {
		return nil, err
	}
	return &l, nil
}

func collectLessons(rows *sql.Rows) ([]*Lesson, error) {
	defer rows.Close()
	var lessons []*Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lesson: %w", err)
		}
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lessons: %w", err)
	}
	return lessons, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return millis(*t)
}
