package transcribe

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/database"
)

func TestRecoveryJob(t *testing.T) {
	captured := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)
	j := recoveryJob(database.UnprocessedSegment{
		SegmentID:  "seg_1_10202_1724500000",
		CallID:     42,
		Talkgroup:  10202,
		System:     "1",
		CapturedAt: captured,
		BlobKey:    "2026/08/24/seg_1_10202_1724500000.wav",
	})

	if j.CallID != 42 || j.SegmentID != "seg_1_10202_1724500000" {
		t.Errorf("job identity = %+v", j)
	}
	if j.System != 1 {
		t.Errorf("System = %d, want 1", j.System)
	}
	if j.Talkgroup != 10202 {
		t.Errorf("Talkgroup = %d, want 10202", j.Talkgroup)
	}
	if !j.CapturedAt.Equal(captured) {
		t.Errorf("CapturedAt = %v", j.CapturedAt)
	}
	if j.BlobKey == "" {
		t.Error("BlobKey not carried over")
	}
	if j.IsRerun {
		t.Error("IsRerun = true; a recovered segment never had a terminal write")
	}

	// A non-numeric system column falls back to zero rather than failing
	// the whole sweep.
	j = recoveryJob(database.UnprocessedSegment{SegmentID: "seg_x", System: "marion-county"})
	if j.System != 0 {
		t.Errorf("System = %d, want 0 for unparsable system", j.System)
	}
}

func TestRequeueStopsWhenQueueFull(t *testing.T) {
	wp := NewWorkerPool(WorkerPoolOptions{
		Workers:   1,
		QueueSize: 2,
		Log:       zerolog.Nop(),
	})
	// Workers not started: everything enqueued stays in the channel.

	jobs := []Job{
		{SegmentID: "seg_a"},
		{SegmentID: "seg_b"},
		{SegmentID: "seg_c"},
	}
	if n := wp.requeue(jobs); n != 2 {
		t.Fatalf("requeue = %d, want 2", n)
	}
	if pending := len(wp.jobs); pending != 2 {
		t.Fatalf("pending = %d, want 2", pending)
	}

	// The overflow job is picked up by a later sweep once there is room.
	<-wp.jobs
	if n := wp.requeue(jobs[2:]); n != 1 {
		t.Errorf("requeue after drain = %d, want 1", n)
	}
	got := <-wp.jobs
	if got.SegmentID != "seg_b" {
		t.Errorf("next job = %q, want seg_b", got.SegmentID)
	}
}
