package transcribe

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/classify"
	"github.com/snarg/dispatch-intel/internal/database"
	"github.com/snarg/dispatch-intel/internal/geocode"
	"github.com/snarg/dispatch-intel/internal/metrics"
	"github.com/snarg/dispatch-intel/internal/postproc"
	"github.com/snarg/dispatch-intel/internal/storage"
	"github.com/snarg/dispatch-intel/internal/units"
)

const (
	maxRetries    = 2
	retryBackoff  = time.Second
	drainDeadline = 30 * time.Second

	// recoveryGrace keeps the sweep away from segments that are merely
	// still waiting in the queue.
	recoveryGrace = 5 * time.Minute
	recoveryBatch = 100
)

// Job is one segment awaiting transcription. A worker owns the segment
// end-to-end: transcribe, post-process, classify, geocode, tag, persist.
type Job struct {
	CallID     int64
	SegmentID  string
	Talkgroup  int
	System     int
	CapturedAt time.Time
	BlobKey    string
	IsRerun    bool // merged-segment reprocessing; suppresses new_call
}

// ProcessedCall summarizes the terminal call write for downstream hooks
// (linker, hospital grouper, alert engine).
type ProcessedCall struct {
	CallID     int64
	SegmentID  string
	Talkgroup  int
	System     int
	CapturedAt time.Time
	Transcript string
	Confidence float64
	CallType   string
	Location   string
	IsRerun    bool
}

// Notifier pushes call events to connected clients.
type Notifier interface {
	NotifyNewCall(call *database.CallAPI)
	NotifyCallUpdate(call *database.CallAPI)
}

// QueueStats reports the current state of the transcription queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// WorkerPoolOptions configures the transcription worker pool.
type WorkerPoolOptions struct {
	DB        *database.DB
	Store     storage.BlobStore
	Provider  Provider
	Processor *postproc.Processor
	Geocoder  *geocode.Geocoder
	Tagger    *units.Tagger
	Notifier  Notifier

	// OnProcessed runs after each terminal write. Wired to the call
	// linker, hospital grouper, and per-call alert evaluation.
	OnProcessed func(ctx context.Context, pc ProcessedCall)

	Workers   int
	QueueSize int
	Log       zerolog.Logger
}

// WorkerPool manages the transcription workers.
type WorkerPool struct {
	jobs   chan Job
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
}

func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:   make(chan Job, opts.QueueSize),
		opts:   opts,
		log:    opts.Log.With().Str("component", "transcribe-pool").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).
		Msg("transcription worker pool started")
}

// Stop drains the queue up to the drain deadline, then cancels in-flight
// work. Interrupted jobs mark their call metadata before exiting.
func (wp *WorkerPool) Stop() {
	close(wp.jobs)
	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainDeadline):
		wp.log.Warn().Msg("drain deadline exceeded, cancelling in-flight transcriptions")
		wp.cancel()
		<-done
	}
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("transcription worker pool stopped")
}

// Enqueue blocks until the queue accepts the job or ctx is cancelled.
// The blocking is the backpressure signal to the segment source.
func (wp *WorkerPool) Enqueue(ctx context.Context, j Job) error {
	select {
	case wp.jobs <- j:
		metrics.QueuePending.Set(float64(len(wp.jobs)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}

// RecoverUnprocessed re-enqueues segments left at processed=false by
// transient transcription failures, oldest first. The per-segment pipeline
// is idempotent, so the rare segment picked up twice only costs work.
func (wp *WorkerPool) RecoverUnprocessed(ctx context.Context) (int, error) {
	stuck, err := wp.opts.DB.UnprocessedSegments(ctx, time.Now().Add(-recoveryGrace), recoveryBatch)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed segments: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	jobs := make([]Job, 0, len(stuck))
	for _, u := range stuck {
		jobs = append(jobs, recoveryJob(u))
	}
	n := wp.requeue(jobs)
	if n > 0 {
		wp.log.Info().Int("requeued", n).Int("stuck", len(stuck)).
			Msg("unprocessed segments requeued")
	}
	return n, nil
}

// requeue enqueues without blocking; a full queue ends the batch, the rest
// waits for the next sweep.
func (wp *WorkerPool) requeue(jobs []Job) int {
	n := 0
	for _, j := range jobs {
		select {
		case wp.jobs <- j:
			n++
		default:
			metrics.QueuePending.Set(float64(len(wp.jobs)))
			return n
		}
	}
	metrics.QueuePending.Set(float64(len(wp.jobs)))
	return n
}

func recoveryJob(u database.UnprocessedSegment) Job {
	system, _ := strconv.Atoi(u.System)
	return Job{
		CallID:     u.CallID,
		SegmentID:  u.SegmentID,
		Talkgroup:  u.Talkgroup,
		System:     system,
		CapturedAt: u.CapturedAt,
		BlobKey:    u.BlobKey,
	}
}

// ProcessNow runs one job synchronously on the caller's goroutine. The
// call linker uses this to re-run the pipeline on merged segments.
func (wp *WorkerPool) ProcessNow(ctx context.Context, j Job) error {
	return wp.processJob(ctx, wp.log, j)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for job := range wp.jobs {
		if err := wp.runGuarded(log, job); err != nil {
			wp.failed.Add(1)
			metrics.TranscriptionsTotal.WithLabelValues("failed").Inc()
			log.Warn().Err(err).
				Int64("call_id", job.CallID).
				Str("segment_id", job.SegmentID).
				Msg("segment processing failed")
		} else {
			wp.completed.Add(1)
			metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()
		}
		metrics.QueuePending.Set(float64(len(wp.jobs)))
	}
}

// runGuarded isolates panics to the failing job so no error can take down
// a worker goroutine.
func (wp *WorkerPool) runGuarded(log zerolog.Logger, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in segment pipeline: %v", r)
			time.Sleep(time.Second)
		}
	}()
	return wp.processJob(wp.ctx, log, job)
}

func (wp *WorkerPool) processJob(ctx context.Context, log zerolog.Logger, job Job) error {
	start := time.Now()

	audioData, err := storage.Load(ctx, wp.opts.Store, job.BlobKey)
	if err != nil {
		// Blob gone is permanent: mark processed so the segment isn't
		// retried forever.
		wp.markFailed(job, "blob load: "+err.Error())
		return fmt.Errorf("load blob %s: %w", job.BlobKey, err)
	}
	if len(audioData) == 0 {
		// Metadata-only segment, nothing to transcribe.
		return wp.opts.DB.MarkSegmentProcessed(context.Background(), job.SegmentID)
	}

	res, err := wp.transcribeWithRetry(ctx, audioData, job.SegmentID)
	if err != nil {
		if ctx.Err() != nil {
			wp.interrupted(job)
			return fmt.Errorf("transcription cancelled: %w", ctx.Err())
		}
		if IsTransient(err) {
			// Leave processed=false; the segment can be retried after the
			// engine recovers.
			return fmt.Errorf("transcription: %w", err)
		}
		wp.markFailed(job, "transcription: "+err.Error())
		return fmt.Errorf("transcription: %w", err)
	}

	post := wp.opts.Processor.Process(res.Utterance, res.Confidence)
	cls := classify.Classify(post.Cleaned, post.CallType, post.Acuity)

	enrich := database.CallEnrichment{
		Transcript:   post.Cleaned,
		Confidence:   post.Confidence,
		CallType:     cls.CallType,
		Keywords:     cls.Keywords,
		AcuityLevel:  cls.AcuityLevel,
		UrgencyScore: cls.UrgencyScore,
	}
	if post.Address != nil && !post.IsNoise && !post.IsHallucination {
		enrich.Location = post.Address.Text
		if wp.opts.Geocoder != nil {
			loc, gerr := wp.opts.Geocoder.Geocode(ctx, post.Address.Text)
			if gerr != nil {
				log.Warn().Err(gerr).Str("address", post.Address.Text).Msg("geocode failed")
			} else if loc != nil {
				enrich.Latitude = &loc.Lat
				enrich.Longitude = &loc.Lng
			}
		}
	}

	unlock := wp.opts.DB.LockCall(job.CallID)
	err = wp.opts.DB.UpdateCallEnrichment(ctx, job.CallID, &enrich)
	unlock()
	if err != nil {
		return fmt.Errorf("update call %d: %w", job.CallID, err)
	}
	if post.ParseErrors > 0 {
		_ = wp.opts.DB.MergeCallMetadata(ctx, job.CallID, map[string]any{
			"parseErrors": post.ParseErrors,
		})
	}

	if wp.opts.Tagger != nil {
		if _, terr := wp.opts.Tagger.Tag(ctx, job.CallID, post.Cleaned); terr != nil {
			log.Warn().Err(terr).Int64("call_id", job.CallID).Msg("unit tagging failed")
		}
	}

	if err := wp.opts.DB.MarkSegmentProcessed(ctx, job.SegmentID); err != nil {
		return fmt.Errorf("mark processed %s: %w", job.SegmentID, err)
	}

	wp.notify(ctx, job)

	if wp.opts.OnProcessed != nil {
		wp.opts.OnProcessed(ctx, ProcessedCall{
			CallID:     job.CallID,
			SegmentID:  job.SegmentID,
			Talkgroup:  job.Talkgroup,
			System:     job.System,
			CapturedAt: job.CapturedAt,
			Transcript: post.Cleaned,
			Confidence: post.Confidence,
			CallType:   cls.CallType,
			Location:   enrich.Location,
			IsRerun:    job.IsRerun,
		})
	}

	metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())
	log.Debug().
		Int64("call_id", job.CallID).
		Str("call_type", cls.CallType).
		Dur("elapsed", time.Since(start)).
		Msg("segment processed")
	return nil
}

func (wp *WorkerPool) transcribeWithRetry(ctx context.Context, audioData []byte, segmentID string) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		res, err := wp.opts.Provider.Transcribe(ctx, audioData, segmentID)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsTransient(err) {
			break
		}
	}
	return nil, lastErr
}

// markFailed records a permanent failure: the segment is marked processed
// with the error in call metadata so it is skipped, not retried.
func (wp *WorkerPool) markFailed(job Job, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = wp.opts.DB.MergeCallMetadata(ctx, job.CallID, map[string]any{
		"processingError": reason,
	})
	_ = wp.opts.DB.MarkSegmentProcessed(ctx, job.SegmentID)
}

func (wp *WorkerPool) interrupted(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = wp.opts.DB.MergeCallMetadata(ctx, job.CallID, map[string]any{
		"shutdownInterrupted": true,
	})
}

func (wp *WorkerPool) notify(ctx context.Context, job Job) {
	if wp.opts.Notifier == nil {
		return
	}
	call, err := wp.opts.DB.GetCallByID(ctx, job.CallID)
	if err != nil {
		wp.log.Warn().Err(err).Int64("call_id", job.CallID).Msg("fetch call for notify failed")
		return
	}
	if job.IsRerun {
		wp.opts.Notifier.NotifyCallUpdate(call)
	} else {
		wp.opts.Notifier.NotifyNewCall(call)
	}
}
