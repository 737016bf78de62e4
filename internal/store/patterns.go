package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Pattern is a mined regularity across same-type episodes. At most one
// pattern exists per distinct description substring; callers enforce this by
// going through UpsertPatternByDescription.
type Pattern struct {
	ID          int64   `json:"id"`
	PatternType string  `json:"pattern_type"`
	Description string  `json:"description"`
	EpisodeIDs  []int64 `json:"episode_ids"`
	Frequency   int     `json:"frequency"`

	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`

	InitialConfidence float64   `json:"initial_confidence"`
	DecayConstant     float64   `json:"decay_constant"`
	LastValidated     time.Time `json:"last_validated"`

	TimesApplied         int     `json:"times_applied"`
	TimesSucceeded       int     `json:"times_succeeded"`
	DiscriminationWeight float64 `json:"discrimination_weight"`
}

const patternColumns = `id, pattern_type, description, episode_ids, frequency,
	last_seen, created_at, initial_confidence, decay_constant, last_validated,
	times_applied, times_succeeded, discrimination_weight`

// GetPattern retrieves one pattern by id, or ErrRowNotFound.
func (s *Store) GetPattern(ctx context.Context, id int64) (*Pattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting pattern %d: %w", id, err)
	}
	return p, nil
}

// UpsertPatternByDescription finds the existing pattern whose description
// contains substr (oldest id wins) and hands it to fn, which returns the row
// to persist. When no pattern matches, fn receives nil and its result is
// inserted. The lookup and write share one transaction so concurrent callers
// cannot race the existence check into duplicate patterns.
//
// Returns the persisted pattern and whether it was newly created.
func (s *Store) UpsertPatternByDescription(ctx context.Context, substr string, fn func(existing *Pattern) (*Pattern, error)) (*Pattern, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning pattern upsert: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+patternColumns+` FROM patterns
		WHERE instr(description, ?) > 0
		ORDER BY id LIMIT 1`, substr)
	existing, err := scanPattern(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("finding pattern by description: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		existing = nil
	}

	p, err := fn(existing)
	if err != nil {
		return nil, false, err
	}

	created := existing == nil
	if created {
		episodeIDs, err := marshalInt64s(p.EpisodeIDs)
		if err != nil {
			return nil, false, err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO patterns (pattern_type, description, episode_ids, frequency,
				last_seen, created_at, initial_confidence, decay_constant, last_validated,
				times_applied, times_succeeded, discrimination_weight)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.PatternType, p.Description, episodeIDs, p.Frequency,
			millis(p.LastSeen), millis(p.CreatedAt),
			p.InitialConfidence, p.DecayConstant, millis(p.LastValidated),
			p.TimesApplied, p.TimesSucceeded, p.DiscriminationWeight)
		if err != nil {
			return nil, false, fmt.Errorf("inserting pattern: %w", err)
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return nil, false, fmt.Errorf("reading pattern id: %w", err)
		}
	} else {
		p.ID = existing.ID
		if err := updatePatternTx(ctx, tx, p); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing pattern upsert: %w", err)
	}
	return p, created, nil
}

// UpdatePattern persists all mutable fields of the pattern.
func (s *Store) UpdatePattern(ctx context.Context, p *Pattern) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning pattern update: %w", err)
	}
	defer tx.Rollback()
	if err := updatePatternTx(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing pattern update: %w", err)
	}
	return nil
}

func updatePatternTx(ctx context.Context, tx *sql.Tx, p *Pattern) error {
	episodeIDs, err := marshalInt64s(p.EpisodeIDs)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE patterns SET pattern_type = ?, description = ?, episode_ids = ?, frequency = ?,
			last_seen = ?, initial_confidence = ?, decay_constant = ?, last_validated = ?,
			times_applied = ?, times_succeeded = ?, discrimination_weight = ?
		WHERE id = ?`,
		p.PatternType, p.Description, episodeIDs, p.Frequency,
		millis(p.LastSeen), p.InitialConfidence, p.DecayConstant, millis(p.LastValidated),
		p.TimesApplied, p.TimesSucceeded, p.DiscriminationWeight, p.ID)
	if err != nil {
		return fmt.Errorf("updating pattern %d: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading pattern update count: %w", err)
	}
	if n == 0 {
		return ErrRowNotFound
	}
	return nil
}

// PatternsMatching returns patterns whose description contains term or whose
// pattern type equals term, newest last_seen first.
func (s *Store) PatternsMatching(ctx context.Context, term string, limit int) ([]*Pattern, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+` FROM patterns
		WHERE instr(description, ?) > 0 OR pattern_type = ?
		ORDER BY last_seen DESC, id DESC
		LIMIT ?`, term, term, limit)
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}
	return collectPatterns(rows)
}

// DeletePatternsLastSeenBefore removes patterns whose last_seen predates
// cutoff, returning the number deleted.
func (s *Store) DeletePatternsLastSeenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM patterns WHERE last_seen < ?`, millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting stale patterns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading delete count: %w", err)
	}
	return n, nil
}

func scanPattern(row rowScanner) (*Pattern, error) {
	var (
		p             Pattern
		episodeIDsRaw string
		lastSeen      int64
		createdAt     int64
		lastValidated int64
	)
	err := row.Scan(&p.ID, &p.PatternType, &p.Description, &episodeIDsRaw, &p.Frequency,
		&lastSeen, &createdAt, &p.InitialConfidence, &p.DecayConstant, &lastValidated,
		&p.TimesApplied, &p.TimesSucceeded, &p.DiscriminationWeight)
	if err != nil {
		return nil, err
	}
	p.LastSeen = fromMillis(lastSeen)
	p.CreatedAt = fromMillis(createdAt)
	p.LastValidated = fromMillis(lastValidated)
	if p.EpisodeIDs, err = unmarshalInt64s(episodeIDsRaw); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPatterns(rows *sql.Rows) ([]*Pattern, error) {
	defer rows.Close()
	var patterns []*Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating patterns: %w", err)
	}
	return patterns, nil
}
