package hospital

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/database"
)

// Segment is one hospital-channel transmission handed to the grouper
// after transcription.
type Segment struct {
	AudioSegmentID string
	Talkgroup      int
	Transcript     string
	Confidence     float64
	Timestamp      time.Time
}

// Options configures the conversation grouper.
type Options struct {
	DB *database.DB
	// Window is the maximum conversation span (default 10 minutes).
	Window time.Duration
	// CloseIdle completes a conversation with no new segment for this
	// long (default 7 minutes).
	CloseIdle time.Duration
	// HospitalNames maps talkgroup to hospital display name.
	HospitalNames map[int]string
	Log           zerolog.Logger
}

// Grouper assembles hospital-channel segments into window-bounded
// conversations and runs SOR detection over them. It owns the
// hospital_conversations and hospital_segments rows.
type Grouper struct {
	opts Options
	log  zerolog.Logger

	// Per-talkgroup locks serialize membership decisions so two segments
	// on the same channel can't both open a conversation.
	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func New(opts Options) *Grouper {
	if opts.Window <= 0 {
		opts.Window = 10 * time.Minute
	}
	if opts.CloseIdle <= 0 {
		opts.CloseIdle = 7 * time.Minute
	}
	return &Grouper{
		opts:  opts,
		log:   opts.Log.With().Str("component", "hospital-grouper").Logger(),
		locks: make(map[int]*sync.Mutex),
	}
}

func (g *Grouper) talkgroupLock(tg int) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[tg]
	if !ok {
		l = &sync.Mutex{}
		g.locks[tg] = l
	}
	return l
}

// Ingest assigns a segment to an active conversation whose hypothetical
// window stays within bounds, or opens a new conversation. A segment
// arriving exactly at the window limit starts a new conversation.
func (g *Grouper) Ingest(ctx context.Context, seg Segment) error {
	lock := g.talkgroupLock(seg.Talkgroup)
	lock.Lock()
	defer lock.Unlock()

	active, err := g.opts.DB.ActiveConversations(ctx, seg.Talkgroup)
	if err != nil {
		return fmt.Errorf("active conversations: %w", err)
	}

	var target *database.ConversationRow
	for i := range active {
		if fitsWindow(&active[i], seg.Timestamp, g.opts.Window) {
			target = &active[i]
			break
		}
	}

	if target == nil {
		conv := &database.ConversationRow{
			ConversationID: ConversationID(seg.Talkgroup, seg.Timestamp),
			Talkgroup:      seg.Talkgroup,
			HospitalName:   g.opts.HospitalNames[seg.Talkgroup],
			FirstSegmentAt: seg.Timestamp,
			LastSegmentAt:  seg.Timestamp,
		}
		if _, err := g.opts.DB.InsertConversation(ctx, conv); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}
		target = conv
		g.log.Info().Str("conversation_id", conv.ConversationID).
			Int("talkgroup", seg.Talkgroup).Msg("hospital conversation opened")
	}

	seq, err := g.opts.DB.AppendHospitalSegment(ctx, &database.HospitalSegmentRow{
		ConversationID: target.ConversationID,
		AudioSegmentID: seg.AudioSegmentID,
		Transcript:     seg.Transcript,
		Confidence:     seg.Confidence,
		SegmentTime:    seg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("append segment: %w", err)
	}
	g.log.Debug().Str("conversation_id", target.ConversationID).Int("sequence", seq).
		Msg("hospital segment appended")

	return g.updateSOR(ctx, target.ConversationID)
}

// fitsWindow checks whether adding a segment at ts keeps the hypothetical
// conversation span within the window.
func fitsWindow(c *database.ConversationRow, ts time.Time, window time.Duration) bool {
	first, last := c.FirstSegmentAt, c.LastSegmentAt
	if ts.Before(first) {
		first = ts
	}
	if ts.After(last) {
		last = ts
	}
	return last.Sub(first) <= window
}

// ConversationID builds the deterministic id CONV-YYYY-MM-DD-<tg>-HHMMSS.
func ConversationID(talkgroup int, t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("CONV-%s-%d-%s", u.Format("2006-01-02"), talkgroup, u.Format("150405"))
}

// updateSOR re-evaluates service-on-request state over the whole
// conversation: any positive segment marks it, none clears it.
func (g *Grouper) updateSOR(ctx context.Context, conversationID string) error {
	segments, err := g.opts.DB.SegmentsByConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load segments: %w", err)
	}

	detected := false
	var physician *string
	for _, s := range segments {
		res := DetectSOR(s.Transcript)
		if !res.IsSOR {
			continue
		}
		detected = true
		if physician == nil && res.PhysicianName != "" {
			name := res.PhysicianName
			physician = &name
		}
	}
	return g.opts.DB.SetConversationSOR(ctx, conversationID, detected, physician)
}

// CloseIdle completes conversations whose last segment is older than the
// idle cutoff. Run periodically.
func (g *Grouper) CloseIdle(ctx context.Context) error {
	cutoff := time.Now().Add(-g.opts.CloseIdle)
	closed, err := g.opts.DB.CompleteIdleConversations(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, id := range closed {
		g.log.Info().Str("conversation_id", id).Msg("hospital conversation completed")
	}
	return nil
}

// SuggestSplit partitions an over-long conversation's segments greedily:
// each group keeps its running span within the window. Used to validate
// migrated data; runtime grouping never creates violations.
func SuggestSplit(segments []database.HospitalSegmentRow, window time.Duration) [][]database.HospitalSegmentRow {
	if len(segments) == 0 {
		return nil
	}

	var groups [][]database.HospitalSegmentRow
	current := []database.HospitalSegmentRow{segments[0]}
	start := segments[0].SegmentTime

	for _, s := range segments[1:] {
		if s.SegmentTime.Sub(start) <= window {
			current = append(current, s)
			continue
		}
		groups = append(groups, current)
		current = []database.HospitalSegmentRow{s}
		start = s.SegmentTime
	}
	return append(groups, current)
}
