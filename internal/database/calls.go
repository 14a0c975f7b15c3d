package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Call status values. Once a call reaches cleared or merged, only metadata
// may change.
const (
	CallStatusActive  = "active"
	CallStatusCleared = "cleared"
	CallStatusMerged  = "merged"
)

// CallRow holds the fields written when a preliminary call is created at
// segment intake, before transcription.
type CallRow struct {
	SegmentID string
	StartTime time.Time
	Talkgroup int
	System    string
	Freq      *int64
	Duration  *float32
	CallType  string
	Metadata  json.RawMessage
}

// CallAPI represents a call for API responses and hub frames.
type CallAPI struct {
	CallID       int64           `json:"call_id"`
	SegmentID    string          `json:"segment_id,omitempty"`
	StartTime    time.Time       `json:"start_time"`
	Talkgroup    int             `json:"talkgroup"`
	System       string          `json:"system,omitempty"`
	Freq         *int64          `json:"freq,omitempty"`
	Duration     *float32        `json:"duration,omitempty"`
	Transcript   string          `json:"transcript"`
	Confidence   float64         `json:"confidence"`
	CallType     string          `json:"call_type"`
	Location     string          `json:"location,omitempty"`
	Latitude     *float64        `json:"latitude,omitempty"`
	Longitude    *float64        `json:"longitude,omitempty"`
	Keywords     []string        `json:"keywords,omitempty"`
	AcuityLevel  string          `json:"acuity_level"`
	UrgencyScore float64         `json:"urgency_score"`
	Status       string          `json:"status"`
	Units        []UnitTagAPI    `json:"units,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	AudioURL     *string         `json:"audio_url,omitempty"`
}

const callColumns = `c.call_id, COALESCE(c.segment_id, ''), c.start_time, c.talkgroup,
	c.system, c.freq, c.duration, c.transcript, c.confidence, c.call_type,
	c.location, c.latitude, c.longitude, c.keywords, c.acuity_level,
	c.urgency_score, c.status, c.metadata`

func scanCall(row interface{ Scan(...any) error }) (*CallAPI, error) {
	var c CallAPI
	if err := row.Scan(
		&c.CallID, &c.SegmentID, &c.StartTime, &c.Talkgroup,
		&c.System, &c.Freq, &c.Duration, &c.Transcript, &c.Confidence, &c.CallType,
		&c.Location, &c.Latitude, &c.Longitude, &c.Keywords, &c.AcuityLevel,
		&c.UrgencyScore, &c.Status, &c.Metadata,
	); err != nil {
		return nil, err
	}
	if c.SegmentID != "" {
		url := fmt.Sprintf("/api/calls/%d/audio", c.CallID)
		c.AudioURL = &url
	}
	return &c, nil
}

// InsertCall creates a preliminary call row and returns its monotonic id.
func (db *DB) InsertCall(ctx context.Context, c *CallRow) (int64, error) {
	meta := c.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO calls (segment_id, start_time, talkgroup, system, freq, duration, call_type, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING call_id
	`, c.SegmentID, c.StartTime, c.Talkgroup, c.System, c.Freq, c.Duration, c.CallType, meta).Scan(&id)
	return id, err
}

// CallEnrichment is the terminal write produced by the transcription worker
// after post-processing, classification, and geocoding.
type CallEnrichment struct {
	Transcript   string
	Confidence   float64
	CallType     string
	Location     string
	Latitude     *float64
	Longitude    *float64
	Keywords     []string
	AcuityLevel  string
	UrgencyScore float64
}

// UpdateCallEnrichment writes transcription results back to the call row.
func (db *DB) UpdateCallEnrichment(ctx context.Context, callID int64, e *CallEnrichment) error {
	keywords := e.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	_, err := db.Pool.Exec(ctx, `
		UPDATE calls SET
			transcript = $2, confidence = $3, call_type = $4, location = $5,
			latitude = $6, longitude = $7, keywords = $8, acuity_level = $9,
			urgency_score = $10, updated_at = now()
		WHERE call_id = $1
	`, callID, e.Transcript, e.Confidence, e.CallType, e.Location,
		e.Latitude, e.Longitude, keywords, e.AcuityLevel, e.UrgencyScore)
	return err
}

// MergeCallMetadata merges the given keys into the call's metadata JSONB.
// This is the only write allowed on cleared or merged calls.
func (db *DB) MergeCallMetadata(ctx context.Context, callID int64, patch map[string]any) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx,
		`UPDATE calls SET metadata = metadata || $2::jsonb, updated_at = now() WHERE call_id = $1`,
		callID, data)
	return err
}

// MarkCallMerged flips a call to merged and records the surviving call id.
// Marking an already-merged call is a no-op (returns false).
func (db *DB) MarkCallMerged(ctx context.Context, callID, mergedInto int64) (bool, error) {
	patch, _ := json.Marshal(map[string]any{"mergedInto": mergedInto})
	tag, err := db.Pool.Exec(ctx, `
		UPDATE calls SET status = 'merged', metadata = metadata || $2::jsonb, updated_at = now()
		WHERE call_id = $1 AND status <> 'merged'
	`, callID, patch)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateCallSegment repoints a call at a new (merged) audio segment.
func (db *DB) UpdateCallSegment(ctx context.Context, callID int64, segmentID string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE calls SET segment_id = $2, updated_at = now() WHERE call_id = $1`,
		callID, segmentID)
	return err
}

func (db *DB) GetCallByID(ctx context.Context, callID int64) (*CallAPI, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls c WHERE c.call_id = $1`, callID)
	return scanCall(row)
}

// ListActiveCalls returns recent non-merged calls, newest first. Merged calls
// are excluded from listings but remain queryable by id.
func (db *DB) ListActiveCalls(ctx context.Context, since time.Time, limit int) ([]CallAPI, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+callColumns+` FROM calls c
		WHERE c.status <> 'merged' AND c.start_time >= $1
		ORDER BY c.start_time DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calls := []CallAPI{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

// CallFilter specifies filters for searching calls.
type CallFilter struct {
	Search    string
	Talkgroup *int
	CallType  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// SearchCalls returns calls matching the filter with a total count.
func (db *DB) SearchCalls(ctx context.Context, filter CallFilter) ([]CallAPI, int, error) {
	qb := newQueryBuilder()
	qb.AddRaw("c.status <> 'merged'")

	if filter.StartTime != nil {
		qb.Add("c.start_time >= %s", *filter.StartTime)
	} else {
		qb.Add("c.start_time >= %s", time.Now().Add(-24*time.Hour))
	}
	if filter.EndTime != nil {
		qb.Add("c.start_time < %s", *filter.EndTime)
	}
	if filter.Search != "" {
		qb.Add("(c.transcript || ' ' || c.location) ILIKE %s", "%"+filter.Search+"%")
	}
	if filter.Talkgroup != nil {
		qb.Add("c.talkgroup = %s", *filter.Talkgroup)
	}
	if filter.CallType != "" {
		qb.Add("c.call_type = %s", filter.CallType)
	}

	whereClause := qb.WhereClause()

	var total int
	if err := db.Pool.QueryRow(ctx,
		"SELECT count(*) FROM calls c"+whereClause, qb.Args()...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	dataQuery := fmt.Sprintf(
		"SELECT "+callColumns+" FROM calls c%s ORDER BY c.start_time DESC LIMIT %d OFFSET %d",
		whereClause, limit, filter.Offset)

	rows, err := db.Pool.Query(ctx, dataQuery, qb.Args()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	calls := []CallAPI{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, 0, err
		}
		calls = append(calls, *c)
	}
	return calls, total, rows.Err()
}

// FindLinkCandidates returns non-merged calls on the same talkgroup whose
// start time is within the window around t, excluding the call itself.
// The window bound is inclusive: a candidate at exactly the window edge is
// eligible, one millisecond past it is not.
func (db *DB) FindLinkCandidates(ctx context.Context, callID int64, talkgroup int, t time.Time, window time.Duration) ([]CallAPI, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+callColumns+` FROM calls c
		WHERE c.talkgroup = $1
		  AND c.call_id <> $2
		  AND c.status <> 'merged'
		  AND c.start_time >= $3 AND c.start_time <= $4
		ORDER BY c.start_time
	`, talkgroup, callID, t.Add(-window), t.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []CallAPI
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

// CountCallsByTypeSince counts non-merged calls of the given type since t.
func (db *DB) CountCallsByTypeSince(ctx context.Context, callType string, since time.Time) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM calls
		WHERE call_type = $1 AND start_time >= $2 AND status <> 'merged'
	`, callType, since).Scan(&n)
	return n, err
}

// CountCallsMatchingLocation counts calls since t whose normalized location
// equals the given one. Used by the duplicate-address anomaly check.
func (db *DB) CountCallsMatchingLocation(ctx context.Context, location string, since time.Time) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM calls
		WHERE lower(trim(location)) = lower(trim($1)) AND location <> ''
		  AND start_time >= $2 AND status <> 'merged'
	`, location, since).Scan(&n)
	return n, err
}

// DailyTypeCount is one day's call count for a call type.
type DailyTypeCount struct {
	Day   time.Time
	Count int
}

// DailyCountsByType returns per-day counts for a call type between from and
// to. Days with zero calls are absent; the z-score detector fills gaps.
func (db *DB) DailyCountsByType(ctx context.Context, callType string, from, to time.Time) ([]DailyTypeCount, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT date_trunc('day', start_time) AS day, count(*)
		FROM calls
		WHERE call_type = $1 AND start_time >= $2 AND start_time < $3 AND status <> 'merged'
		GROUP BY day ORDER BY day
	`, callType, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []DailyTypeCount
	for rows.Next() {
		var c DailyTypeCount
		if err := rows.Scan(&c.Day, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// GeoCluster is a (callType, lat, lng) bucket with its call count.
type GeoCluster struct {
	CallType  string
	Latitude  float64
	Longitude float64
	Count     int
}

// GeoClustersSince groups geocoded calls by (call_type, latitude, longitude)
// and returns buckets with at least minCount calls.
func (db *DB) GeoClustersSince(ctx context.Context, since time.Time, minCount int) ([]GeoCluster, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT call_type, latitude, longitude, count(*)
		FROM calls
		WHERE latitude IS NOT NULL AND start_time >= $1 AND status <> 'merged'
		GROUP BY call_type, latitude, longitude
		HAVING count(*) >= $2
	`, since, minCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []GeoCluster
	for rows.Next() {
		var c GeoCluster
		if err := rows.Scan(&c.CallType, &c.Latitude, &c.Longitude, &c.Count); err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// RecentLocations returns (location, callType) pairs for non-merged calls
// since t. Used by the area-concentration scan.
type LocatedCall struct {
	Location string
	CallType string
}

func (db *DB) RecentLocations(ctx context.Context, since time.Time) ([]LocatedCall, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT location, call_type FROM calls
		WHERE location <> '' AND start_time >= $1 AND status <> 'merged'
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LocatedCall
	for rows.Next() {
		var lc LocatedCall
		if err := rows.Scan(&lc.Location, &lc.CallType); err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}
