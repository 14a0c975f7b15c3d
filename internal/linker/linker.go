package linker

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/audio"
	"github.com/snarg/dispatch-intel/internal/database"
	"github.com/snarg/dispatch-intel/internal/metrics"
	"github.com/snarg/dispatch-intel/internal/storage"
	"github.com/snarg/dispatch-intel/internal/transcribe"
	"github.com/snarg/dispatch-intel/internal/units"
)

const (
	mergeThreshold = 0.6
	maxNeighbors   = 2
)

// ProcessFunc re-runs the transcription pipeline on a merged segment.
// Injected from the worker pool to avoid owning it here.
type ProcessFunc func(ctx context.Context, j transcribe.Job) error

// Options configures the call linker.
type Options struct {
	DB      *database.DB
	Store   storage.BlobStore
	Process ProcessFunc
	// Window bounds candidate selection (default 5 minutes, inclusive).
	Window time.Duration
	Log    zerolog.Logger
}

// Linker recovers dispatches cut across multiple short segments on the
// same talkgroup: it scores adjacent calls for compatibility and merges
// audio and transcript into the earliest call.
type Linker struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options) *Linker {
	if opts.Window <= 0 {
		opts.Window = 5 * time.Minute
	}
	return &Linker{
		opts: opts,
		log:  opts.Log.With().Str("component", "call-linker").Logger(),
	}
}

// Consider inspects a freshly processed call. A pair qualifies for merging
// when either side reads incomplete; a fragment dispatched first is
// usually completed by the segment that arrives after it. Reruns (merged
// segments) are ignored to prevent merge loops.
func (l *Linker) Consider(ctx context.Context, pc transcribe.ProcessedCall) {
	if pc.IsRerun {
		return
	}
	if err := l.link(ctx, pc); err != nil {
		l.log.Warn().Err(err).Int64("call_id", pc.CallID).Msg("call linking failed")
	}
}

func (l *Linker) link(ctx context.Context, pc transcribe.ProcessedCall) error {
	self, err := l.opts.DB.GetCallByID(ctx, pc.CallID)
	if err != nil {
		return fmt.Errorf("load call: %w", err)
	}
	selfA := analyze(self.Transcript)

	candidates, err := l.opts.DB.FindLinkCandidates(ctx, pc.CallID, pc.Talkgroup, pc.CapturedAt, l.opts.Window)
	if err != nil {
		return fmt.Errorf("find candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	type scored struct {
		call  database.CallAPI
		score float64
	}
	var accepted []scored
	for _, cand := range candidates {
		candA := analyze(cand.Transcript)
		if !selfA.Incomplete && !candA.Incomplete {
			continue
		}
		s := l.score(self, selfA, &cand, candA)
		if s > mergeThreshold {
			accepted = append(accepted, scored{cand, s})
		}
	}
	if len(accepted) == 0 {
		return nil
	}

	// Best matches first, at most two neighbors per merge.
	for i := 0; i < len(accepted); i++ {
		for j := i + 1; j < len(accepted); j++ {
			if accepted[j].score > accepted[i].score {
				accepted[i], accepted[j] = accepted[j], accepted[i]
			}
		}
	}
	if len(accepted) > maxNeighbors {
		accepted = accepted[:maxNeighbors]
	}

	group := []database.CallAPI{*self}
	for _, s := range accepted {
		group = append(group, s.call)
	}
	return l.merge(ctx, group)
}

// score computes 0.4*timeScore + 0.6*contentScore for a candidate pair.
func (l *Linker) score(self *database.CallAPI, selfA analysis, cand *database.CallAPI, candA analysis) float64 {
	dt := self.StartTime.Sub(cand.StartTime)
	if dt < 0 {
		dt = -dt
	}
	timeScore := 1 - float64(dt)/float64(l.opts.Window)
	if timeScore < 0 {
		timeScore = 0
	}

	content := 0.0
	if sharedUnits(self.Transcript, cand.Transcript) {
		content += 0.4
	}
	if sharedLocation(self.Location, cand.Location) {
		content += 0.3
	}
	if (selfA.HasUnits && candA.HasLocation && !selfA.HasLocation) ||
		(candA.HasUnits && selfA.HasLocation && !candA.HasLocation) {
		content += 0.3
	}
	// A units-only fragment completed by a neighbor that carries the
	// dispatch body (call type) is the classic cut transmission.
	if (selfA.UnitsOnly && candA.HasCallType) || (candA.UnitsOnly && selfA.HasCallType) {
		content += 0.3
	}
	if selfA.TrailingStop && leadingArticle.MatchString(cand.Transcript) ||
		candA.TrailingStop && leadingArticle.MatchString(self.Transcript) {
		content += 0.2
	}
	if content > 1 {
		content = 1
	}

	return 0.4*timeScore + 0.6*content
}

func sharedUnits(a, b string) bool {
	ua, ub := units.Parse(a), units.Parse(b)
	if len(ua) == 0 || len(ub) == 0 {
		return false
	}
	set := make(map[units.Unit]bool, len(ua))
	for _, u := range ua {
		set[u] = true
	}
	for _, u := range ub {
		if set[u] {
			return true
		}
	}
	return false
}

func sharedLocation(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// merge joins the group's audio in transmission order into the earliest
// call, persists a merged segment, re-runs the pipeline on it, and marks
// the absorbed calls.
func (l *Linker) merge(ctx context.Context, group []database.CallAPI) error {
	// Earliest transmission survives; the rest are absorbed.
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			if group[j].StartTime.Before(group[i].StartTime) {
				group[i], group[j] = group[j], group[i]
			}
		}
	}
	primary, absorbed := group[0], group[1:]

	var merged []byte
	audioConcat := true
	for _, call := range group {
		seg, err := l.opts.DB.GetSegment(ctx, call.SegmentID)
		if err != nil {
			return fmt.Errorf("load segment %s: %w", call.SegmentID, err)
		}
		data, err := storage.Load(ctx, l.opts.Store, seg.BlobKey)
		if err != nil {
			return fmt.Errorf("load audio %s: %w", seg.BlobKey, err)
		}
		if merged == nil {
			merged = data
			continue
		}
		joined, ok := audio.Concat(merged, data)
		merged = joined
		audioConcat = audioConcat && ok
	}

	segmentID := fmt.Sprintf("merged_%d_%04d", time.Now().Unix(), rand.Intn(10000))
	contentType := audio.DetectContentType(merged)
	blobKey := storage.BlobKey(primary.StartTime, segmentID, audio.ExtForContentType(contentType))
	if err := l.opts.Store.Save(ctx, blobKey, merged, contentType); err != nil {
		return fmt.Errorf("save merged blob: %w", err)
	}

	seg := &database.AudioSegmentRow{
		ID:          segmentID,
		DedupeKey:   segmentID,
		BlobKey:     blobKey,
		ContentType: contentType,
		ByteSize:    len(merged),
		DurationMs:  audio.DurationMs(merged),
		Talkgroup:   primary.Talkgroup,
		System:      primary.System,
		CapturedAt:  primary.StartTime,
	}
	if info, _, err := audio.ParseWAV(merged); err == nil {
		seg.SampleRate = info.SampleRate
		seg.Channels = info.Channels
	}
	if err := l.opts.DB.InsertAudioSegment(ctx, seg); err != nil {
		return fmt.Errorf("insert merged segment: %w", err)
	}

	linkedIDs := make([]int64, 0, len(absorbed))
	for _, call := range absorbed {
		linkedIDs = append(linkedIDs, call.CallID)
	}

	unlock := l.opts.DB.LockCall(primary.CallID)
	err := l.opts.DB.UpdateCallSegment(ctx, primary.CallID, segmentID)
	if err == nil {
		err = l.opts.DB.MergeCallMetadata(ctx, primary.CallID, map[string]any{
			"linkedCalls":     linkedIDs,
			"originalSegment": primary.SegmentID,
			"audioConcat":     audioConcat,
		})
	}
	unlock()
	if err != nil {
		return fmt.Errorf("update primary call: %w", err)
	}

	for _, id := range linkedIDs {
		changed, err := l.opts.DB.MarkCallMerged(ctx, id, primary.CallID)
		if err != nil {
			return fmt.Errorf("mark call %d merged: %w", id, err)
		}
		if !changed {
			// Already merged elsewhere: invariant violation, skip but warn.
			l.log.Warn().Int64("call_id", id).Msg("merge target was already merged")
			continue
		}
		metrics.CallsMergedTotal.Inc()
	}

	l.log.Info().
		Int64("call_id", primary.CallID).
		Ints64("linked", linkedIDs).
		Str("merged_segment", segmentID).
		Msg("calls linked")

	system, _ := strconv.Atoi(primary.System)
	return l.opts.Process(ctx, transcribe.Job{
		CallID:     primary.CallID,
		SegmentID:  segmentID,
		Talkgroup:  primary.Talkgroup,
		System:     system,
		CapturedAt: primary.StartTime,
		BlobKey:    blobKey,
		IsRerun:    true,
	})
}
