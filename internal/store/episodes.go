package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Episode is an immutable record of one attempted operation. The derived
// scores are computed once at insert and never recomputed.
type Episode struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	OperationType string    `json:"operation_type"`
	ServerName    string    `json:"server_name,omitempty"`
	Problem       Payload   `json:"problem,omitempty"`
	Solution      Payload   `json:"solution,omitempty"`
	Metadata      Payload   `json:"metadata,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	QualityScore  *float64  `json:"quality_score,omitempty"`
	DurationMS    *int64    `json:"duration_ms,omitempty"`
	Notes         string    `json:"notes,omitempty"`

	NoveltyScore          float64 `json:"novelty_score"`
	EffectivenessScore    float64 `json:"effectiveness_score"`
	GeneralizabilityScore float64 `json:"generalizability_score"`
	UtilityScore          float64 `json:"utility_score"`
}

const episodeColumns = `id, timestamp, operation_type, server_name, problem, solution, metadata,
	outcome, quality_score, duration_ms, notes,
	novelty_score, effectiveness_score, generalizability_score, utility_score`

// InsertEpisode persists a new episode and returns its assigned id.
func (s *Store) InsertEpisode(ctx context.Context, e *Episode) (int64, error) {
	problem, err := marshalPayload(e.Problem)
	if err != nil {
		return 0, err
	}
	solution, err := marshalPayload(e.Solution)
	if err != nil {
		return 0, err
	}
	metadata, err := marshalPayload(e.Metadata)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (timestamp, operation_type, server_name, problem, solution, metadata,
			outcome, quality_score, duration_ms, notes,
			novelty_score, effectiveness_score, generalizability_score, utility_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		millis(e.Timestamp), e.OperationType, nullString(e.ServerName),
		problem, solution, metadata,
		string(e.Outcome), e.QualityScore, e.DurationMS, nullString(e.Notes),
		e.NoveltyScore, e.EffectivenessScore, e.GeneralizabilityScore, e.UtilityScore)
	if err != nil {
		return 0, fmt.Errorf("inserting episode: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading episode id: %w", err)
	}
	e.ID = id
	return id, nil
}

// GetEpisode retrieves one episode by id, or ErrRowNotFound.
func (s *Store) GetEpisode(ctx context.Context, id int64) (*Episode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	e, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting episode %d: %w", id, err)
	}
	return e, nil
}

// EpisodesByIDs retrieves the episodes whose ids resolve, silently skipping
// ids that do not. The result preserves no particular order.
func (s *Store) EpisodesByIDs(ctx context.Context, ids []int64) ([]*Episode, error) {
	episodes := make([]*Episode, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetEpisode(ctx, id)
		if errors.Is(err, ErrRowNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, e)
	}
	return episodes, nil
}

// RecentEpisodesByType returns up to limit same-type episodes, newest first.
func (s *Store) RecentEpisodesByType(ctx context.Context, operationType string, limit int) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+episodeColumns+` FROM episodes
		WHERE operation_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, operationType, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent episodes: %w", err)
	}
	return collectEpisodes(rows)
}

// EpisodesByTypeSince returns up to limit same-type episodes with a
// timestamp at or after since, newest first.
func (s *Store) EpisodesByTypeSince(ctx context.Context, operationType string, since time.Time, limit int) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+episodeColumns+` FROM episodes
		WHERE operation_type = ? AND timestamp >= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, operationType, millis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("querying episodes since: %w", err)
	}
	return collectEpisodes(rows)
}

// CountEpisodesByType counts same-type episodes, capped at the lookback
// limit so an unbounded table cannot dominate generalizability scoring.
func (s *Store) CountEpisodesByType(ctx context.Context, operationType string, cap int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT id FROM episodes WHERE operation_type = ? LIMIT ?
		)`, operationType, cap).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting episodes: %w", err)
	}
	return count, nil
}

// EpisodeFilter narrows a recall query. Zero values mean "no filter".
type EpisodeFilter struct {
	OperationType string
	Outcome       Outcome
	Limit         int
}

// QueryEpisodes returns episodes matching the filter, newest first.
func (s *Store) QueryEpisodes(ctx context.Context, f EpisodeFilter) ([]*Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE 1=1`
	args := []any{}
	if f.OperationType != "" {
		query += ` AND operation_type = ?`
		args = append(args, f.OperationType)
	}
	if f.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(f.Outcome))
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying episodes: %w", err)
	}
	return collectEpisodes(rows)
}

// DeleteEpisodesBefore removes episodes older than cutoff, returning the
// number deleted. Safe to re-run; a second pass deletes nothing.
func (s *Store) DeleteEpisodesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM episodes WHERE timestamp < ?`, millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting old episodes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading delete count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var (
		e            Episode
		ts           int64
		serverName   sql.NullString
		notes        sql.NullString
		problemRaw   string
		solutionRaw  string
		metadataRaw  string
		qualityScore sql.NullFloat64
		durationMS   sql.NullInt64
		outcome      string
	)

	err := row.Scan(&e.ID, &ts, &e.OperationType, &serverName,
		&problemRaw, &solutionRaw, &metadataRaw,
		&outcome, &qualityScore, &durationMS, &notes,
		&e.NoveltyScore, &e.EffectivenessScore, &e.GeneralizabilityScore, &e.UtilityScore)
	if err != nil {
		return nil, err
	}

	e.Timestamp = fromMillis(ts)
	e.ServerName = serverName.String
	e.Notes = notes.String
	e.Outcome = Outcome(outcome)
	if qualityScore.Valid {
		v := qualityScore.Float64
		e.QualityScore = &v
	}
	if durationMS.Valid {
		v := durationMS.Int64
		e.DurationMS = &v
	}

	if e.Problem, err = unmarshalPayload(problemRaw); err != nil {
		return nil, err
	}
	if e.Solution, err = unmarshalPayload(solutionRaw); err != nil {
		return nil, err
	}
	if e.Metadata, err = unmarshalPayload(metadataRaw); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEpisodes(rows *sql.Rows) ([]*Episode, error) {
	defer rows.Close()
	var episodes []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning episode: %w", err)
		}
		episodes = append(episodes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating episodes: %w", err)
	}
	return episodes, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
