package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// AudioSegmentRow mirrors the audio_segments table. Rows are written only by
// the segment source; downstream components treat them read-only except for
// the processed flag.
type AudioSegmentRow struct {
	ID          string
	DedupeKey   string
	BlobKey     string
	ContentType string
	ByteSize    int
	DurationMs  int
	SampleRate  int
	Channels    int
	Talkgroup   int
	System      string
	CapturedAt  time.Time
	Processed   bool
}

// InsertAudioSegment inserts a segment row. A conflict on the dedupe key is
// reported as ErrDuplicateSegment so the intake path can drop the message.
var ErrDuplicateSegment = errors.New("duplicate audio segment")

func (db *DB) InsertAudioSegment(ctx context.Context, s *AudioSegmentRow) error {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO audio_segments
			(id, dedupe_key, blob_key, content_type, byte_size, duration_ms,
			 sample_rate, channels, talkgroup, system, captured_at, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, s.ID, s.DedupeKey, s.BlobKey, s.ContentType, s.ByteSize, s.DurationMs,
		s.SampleRate, s.Channels, s.Talkgroup, s.System, s.CapturedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateSegment
	}
	return nil
}

// SegmentSeen reports whether a segment with the given dedupe key exists.
func (db *DB) SegmentSeen(ctx context.Context, dedupeKey string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM audio_segments WHERE dedupe_key = $1)`, dedupeKey,
	).Scan(&exists)
	return exists, err
}

func (db *DB) GetSegment(ctx context.Context, id string) (*AudioSegmentRow, error) {
	var s AudioSegmentRow
	var dedupe *string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, dedupe_key, blob_key, content_type, byte_size, duration_ms,
			sample_rate, channels, talkgroup, system, captured_at, processed
		FROM audio_segments WHERE id = $1
	`, id).Scan(&s.ID, &dedupe, &s.BlobKey, &s.ContentType, &s.ByteSize, &s.DurationMs,
		&s.SampleRate, &s.Channels, &s.Talkgroup, &s.System, &s.CapturedAt, &s.Processed)
	if err != nil {
		return nil, err
	}
	if dedupe != nil {
		s.DedupeKey = *dedupe
	}
	return &s, nil
}

func (db *DB) MarkSegmentProcessed(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE audio_segments SET processed = true WHERE id = $1`, id)
	return err
}

// UnprocessedSegment pairs a segment stuck at processed=false with its
// active call, enough to rebuild the pipeline job.
type UnprocessedSegment struct {
	SegmentID  string
	CallID     int64
	Talkgroup  int
	System     string
	CapturedAt time.Time
	BlobKey    string
}

// UnprocessedSegments lists segments captured before olderThan that never
// reached a terminal write, oldest first. Merged-away calls are excluded.
func (db *DB) UnprocessedSegments(ctx context.Context, olderThan time.Time, limit int) ([]UnprocessedSegment, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT s.id, c.call_id, s.talkgroup, s.system, s.captured_at, s.blob_key
		FROM audio_segments s
		JOIN calls c ON c.segment_id = s.id
		WHERE NOT s.processed AND s.captured_at < $1 AND c.status = 'active'
		ORDER BY s.captured_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnprocessedSegment
	for rows.Next() {
		var u UnprocessedSegment
		if err := rows.Scan(&u.SegmentID, &u.CallID, &u.Talkgroup, &u.System,
			&u.CapturedAt, &u.BlobKey); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = pgx.ErrNoRows
