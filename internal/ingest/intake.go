package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/audio"
	"github.com/snarg/dispatch-intel/internal/classify"
	"github.com/snarg/dispatch-intel/internal/database"
	"github.com/snarg/dispatch-intel/internal/metrics"
	"github.com/snarg/dispatch-intel/internal/scanner"
	"github.com/snarg/dispatch-intel/internal/storage"
	"github.com/snarg/dispatch-intel/internal/transcribe"
)

const urlFetchTimeout = 10 * time.Second

// Enqueuer hands accepted segments to the transcription pool. Enqueue
// blocks when the queue is full; that blocking stalls the bridge read
// loop, which is the backpressure contract.
type Enqueuer interface {
	Enqueue(ctx context.Context, j transcribe.Job) error
}

// IntakeOptions configures the segment source.
type IntakeOptions struct {
	DB    *database.DB
	Store storage.BlobStore
	Queue Enqueuer
	// Systems and Talkgroups are the subscription allow-list. Empty
	// slices allow everything.
	Systems    []string
	Talkgroups []int
	Log        zerolog.Logger
}

// Intake is the segment source: it filters, dedupes, normalizes, and
// persists bridge call messages, then enqueues them for transcription.
// It is the only writer of audio_segments rows.
type Intake struct {
	opts       IntakeOptions
	systems    map[string]bool
	talkgroups map[int]bool
	lru        *dedupeLRU
	fetch      *http.Client
	log        zerolog.Logger
}

func NewIntake(opts IntakeOptions) *Intake {
	systems := make(map[string]bool, len(opts.Systems))
	for _, s := range opts.Systems {
		systems[s] = true
	}
	talkgroups := make(map[int]bool, len(opts.Talkgroups))
	for _, tg := range opts.Talkgroups {
		talkgroups[tg] = true
	}
	return &Intake{
		opts:       opts,
		systems:    systems,
		talkgroups: talkgroups,
		lru:        newDedupeLRU(10000),
		fetch:      &http.Client{Timeout: urlFetchTimeout},
		log:        opts.Log.With().Str("component", "intake").Logger(),
	}
}

// HandleCall processes one bridge call message end-to-end. Errors are
// contained: a bad message is logged and dropped, never propagated to the
// socket loop.
func (in *Intake) HandleCall(ctx context.Context, cm *scanner.CallMessage) {
	if err := in.process(ctx, cm); err != nil {
		in.log.Warn().Err(err).
			Int("talkgroup", cm.Talkgroup).
			Int64("date_time", cm.DateTime).
			Msg("call message dropped")
	}
}

func (in *Intake) process(ctx context.Context, cm *scanner.CallMessage) error {
	metrics.SegmentsReceivedTotal.Inc()

	system := strconv.Itoa(cm.System)
	if !in.allowed(system, cm.Talkgroup) {
		return nil
	}

	dedupeKey := fmt.Sprintf("%s|%d|%d", system, cm.Talkgroup, cm.DateTime)
	if in.lru.seen(dedupeKey) {
		metrics.SegmentsDedupedTotal.Inc()
		return nil
	}
	if seen, err := in.opts.DB.SegmentSeen(ctx, dedupeKey); err != nil {
		return fmt.Errorf("dedupe lookup: %w", err)
	} else if seen {
		metrics.SegmentsDedupedTotal.Inc()
		return nil
	}

	data, err := in.normalizeAudio(ctx, cm)
	if err != nil {
		return err
	}

	capturedAt := time.Unix(cm.DateTime, 0).UTC()
	segmentID := fmt.Sprintf("seg_%s_%d_%d", system, cm.Talkgroup, cm.DateTime)

	seg := &database.AudioSegmentRow{
		ID:         segmentID,
		DedupeKey:  dedupeKey,
		Talkgroup:  cm.Talkgroup,
		System:     system,
		CapturedAt: capturedAt,
	}

	if len(data) > 0 {
		contentType := audio.DetectContentType(data)
		blobKey := storage.BlobKey(capturedAt, segmentID, audio.ExtForContentType(contentType))
		if err := in.opts.Store.Save(ctx, blobKey, data, contentType); err != nil {
			return fmt.Errorf("save blob: %w", err)
		}
		seg.BlobKey = blobKey
		seg.ContentType = contentType
		seg.ByteSize = len(data)
		seg.DurationMs = audio.DurationMs(data)
		if info, _, err := audio.ParseWAV(data); err == nil {
			seg.SampleRate = info.SampleRate
			seg.Channels = info.Channels
		}
	}

	if err := in.opts.DB.InsertAudioSegment(ctx, seg); err != nil {
		if err == database.ErrDuplicateSegment {
			metrics.SegmentsDedupedTotal.Inc()
			return nil
		}
		return fmt.Errorf("insert segment: %w", err)
	}

	// Preliminary call row reserves the id for downstream enrichment.
	var freq *int64
	if cm.Freq > 0 {
		f := int64(cm.Freq)
		freq = &f
	}
	var duration *float32
	if cm.Duration > 0 {
		d := float32(cm.Duration)
		duration = &d
	}
	meta, _ := json.Marshal(map[string]any{
		"source":          cm.Source,
		"talkgroup_label": cm.TalkgroupLabel,
		"system_label":    cm.SystemLabel,
	})
	callID, err := in.opts.DB.InsertCall(ctx, &database.CallRow{
		SegmentID: segmentID,
		StartTime: capturedAt,
		Talkgroup: cm.Talkgroup,
		System:    system,
		Freq:      freq,
		Duration:  duration,
		CallType:  classify.TypeScannerAudio,
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	if len(data) == 0 {
		// Metadata-only segment: nothing to transcribe.
		return in.opts.DB.MarkSegmentProcessed(ctx, segmentID)
	}

	return in.opts.Queue.Enqueue(ctx, transcribe.Job{
		CallID:     callID,
		SegmentID:  segmentID,
		Talkgroup:  cm.Talkgroup,
		System:     cm.System,
		CapturedAt: capturedAt,
		BlobKey:    seg.BlobKey,
	})
}

func (in *Intake) allowed(system string, talkgroup int) bool {
	if len(in.systems) > 0 && !in.systems[system] {
		return false
	}
	if len(in.talkgroups) > 0 && !in.talkgroups[talkgroup] {
		return false
	}
	return true
}

// normalizeAudio resolves the polymorphic payload to bytes and wraps raw
// PCM in a WAV container. Zero-length payloads pass through as
// metadata-only segments.
func (in *Intake) normalizeAudio(ctx context.Context, cm *scanner.CallMessage) ([]byte, error) {
	payload, err := cm.DecodeAudio()
	if err != nil {
		return nil, err
	}

	var data []byte
	switch {
	case payload.URL != "":
		data, err = in.fetchAudio(ctx, payload.URL)
		if err != nil {
			return nil, err
		}
	case payload.Base64 != "":
		data, err = base64.StdEncoding.DecodeString(payload.Base64)
		if err != nil {
			return nil, fmt.Errorf("base64 audio: %w", err)
		}
	case payload.Bytes != nil:
		data = payload.Bytes
	default:
		return nil, nil
	}

	if len(data) == 0 {
		return nil, nil
	}
	// Raw PCM carries no container signature; wrap it so every blob on
	// disk is playable and parseable.
	if audio.DetectContentType(data) == "application/octet-stream" {
		data = audio.WrapPCM(data, audio.DefaultSampleRate, audio.DefaultChannels)
	}
	return data, nil
}

func (in *Intake) fetchAudio(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := in.fetch.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch audio: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}
