package database

import (
	"context"
	"time"
)

const (
	ConversationActive    = "active"
	ConversationCompleted = "completed"
)

// ConversationRow mirrors hospital_conversations. The deterministic
// ConversationID has the form CONV-YYYY-MM-DD-<talkgroup>-HHMMSS.
type ConversationRow struct {
	ID             int64      `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Talkgroup      int        `json:"talkgroup"`
	HospitalName   string     `json:"hospital_name,omitempty"`
	Status         string     `json:"status"`
	FirstSegmentAt time.Time  `json:"first_segment_at"`
	LastSegmentAt  time.Time  `json:"last_segment_at"`
	SORDetected    bool       `json:"sor_detected"`
	SORPhysician   *string    `json:"sor_physician,omitempty"`
}

// HospitalSegmentRow mirrors hospital_segments. All segments in a
// conversation share the conversation's talkgroup.
type HospitalSegmentRow struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SequenceNumber int       `json:"sequence_number"`
	AudioSegmentID string    `json:"audio_segment_id,omitempty"`
	Transcript     string    `json:"transcript"`
	Confidence     float64   `json:"confidence"`
	SegmentTime    time.Time `json:"segment_time"`
}

func (db *DB) InsertConversation(ctx context.Context, c *ConversationRow) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO hospital_conversations
			(conversation_id, talkgroup, hospital_name, status, first_segment_at, last_segment_at)
		VALUES ($1, $2, $3, 'active', $4, $5)
		RETURNING id
	`, c.ConversationID, c.Talkgroup, c.HospitalName, c.FirstSegmentAt, c.LastSegmentAt).Scan(&id)
	return id, err
}

// ActiveConversations returns the active conversations on a talkgroup.
func (db *DB) ActiveConversations(ctx context.Context, talkgroup int) ([]ConversationRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, conversation_id, talkgroup, hospital_name, status,
			first_segment_at, last_segment_at, sor_detected, sor_physician
		FROM hospital_conversations
		WHERE talkgroup = $1 AND status = 'active'
		ORDER BY last_segment_at DESC
	`, talkgroup)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

// AppendHospitalSegment inserts a segment with the next sequence number and
// advances the conversation window. Runs in a transaction so the sequence
// stays monotonic under the grouper's per-conversation lock.
func (db *DB) AppendHospitalSegment(ctx context.Context, s *HospitalSegmentRow) (int, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var seq int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) + 1
		FROM hospital_segments WHERE conversation_id = $1
	`, s.ConversationID).Scan(&seq)
	if err != nil {
		return 0, err
	}

	var segID *string
	if s.AudioSegmentID != "" {
		segID = &s.AudioSegmentID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO hospital_segments
			(conversation_id, sequence_number, audio_segment_id, transcript, confidence, segment_time)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ConversationID, seq, segID, s.Transcript, s.Confidence, s.SegmentTime)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE hospital_conversations SET
			first_segment_at = LEAST(first_segment_at, $2),
			last_segment_at = GREATEST(last_segment_at, $2)
		WHERE conversation_id = $1
	`, s.ConversationID, s.SegmentTime)
	if err != nil {
		return 0, err
	}

	return seq, tx.Commit(ctx)
}

// CompleteIdleConversations marks active conversations with no segment since
// the cutoff as completed, returning the affected conversation ids.
func (db *DB) CompleteIdleConversations(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		UPDATE hospital_conversations SET status = 'completed'
		WHERE status = 'active' AND last_segment_at < $1
		RETURNING conversation_id
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetConversationSOR records (or clears) SOR detection on a conversation.
func (db *DB) SetConversationSOR(ctx context.Context, conversationID string, detected bool, physician *string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE hospital_conversations SET sor_detected = $2, sor_physician = $3
		WHERE conversation_id = $1
	`, conversationID, detected, physician)
	return err
}

// ListConversations returns recent conversations, newest first.
func (db *DB) ListConversations(ctx context.Context, since time.Time, limit int) ([]ConversationRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, conversation_id, talkgroup, hospital_name, status,
			first_segment_at, last_segment_at, sor_detected, sor_physician
		FROM hospital_conversations
		WHERE last_segment_at >= $1
		ORDER BY last_segment_at DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

// SegmentsByConversation returns a conversation's segments in sequence order.
func (db *DB) SegmentsByConversation(ctx context.Context, conversationID string) ([]HospitalSegmentRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, conversation_id, sequence_number, COALESCE(audio_segment_id, ''),
			transcript, confidence, segment_time
		FROM hospital_segments
		WHERE conversation_id = $1
		ORDER BY sequence_number
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segs []HospitalSegmentRow
	for rows.Next() {
		var s HospitalSegmentRow
		if err := rows.Scan(&s.ID, &s.ConversationID, &s.SequenceNumber,
			&s.AudioSegmentID, &s.Transcript, &s.Confidence, &s.SegmentTime); err != nil {
			return nil, err
		}
		segs = append(segs, s)
	}
	return segs, rows.Err()
}

// ConversationsExceedingWindow returns conversations (e.g. migrated data)
// whose span exceeds the window; the grouper's suggestSplit partitions them.
func (db *DB) ConversationsExceedingWindow(ctx context.Context, window time.Duration) ([]ConversationRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, conversation_id, talkgroup, hospital_name, status,
			first_segment_at, last_segment_at, sor_detected, sor_physician
		FROM hospital_conversations
		WHERE last_segment_at - first_segment_at > make_interval(secs => $1)
	`, window.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

// SORConversationsSince returns completed conversations with SOR detected.
func (db *DB) SORConversationsSince(ctx context.Context, since time.Time) ([]ConversationRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, conversation_id, talkgroup, hospital_name, status,
			first_segment_at, last_segment_at, sor_detected, sor_physician
		FROM hospital_conversations
		WHERE sor_detected AND first_segment_at >= $1
		ORDER BY first_segment_at DESC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

func scanConversations(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]ConversationRow, error) {
	var convs []ConversationRow
	for rows.Next() {
		var c ConversationRow
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.Talkgroup, &c.HospitalName,
			&c.Status, &c.FirstSegmentAt, &c.LastSegmentAt, &c.SORDetected, &c.SORPhysician); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
