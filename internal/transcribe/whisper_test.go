package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		fmt.Fprint(w, `{
			"text": "Engine 19, 1555 South Harding Street, chest pain",
			"duration": 6.2,
			"segments": [{"avg_logprob": -0.105, "no_speech_prob": 0.01}],
			"words": [
				{"word": "Engine", "start": 0.2, "end": 0.6},
				{"word": "pain", "start": 5.4, "end": 5.9}
			]
		}`)
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "whisper-1", 5*time.Second)
	res, err := wc.Transcribe(context.Background(), []byte("fake audio"), "seg_1_2_3")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Utterance == "" {
		t.Error("empty utterance")
	}
	// exp(-0.105) ~ 0.90
	if res.Confidence < 0.85 || res.Confidence > 0.95 {
		t.Errorf("Confidence = %v, want ~0.9", res.Confidence)
	}
	if res.StartMs != 200 || res.EndMs != 5900 {
		t.Errorf("word bounds = %d..%d, want 200..5900", res.StartMs, res.EndMs)
	}
}

func TestWhisperErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server_error", http.StatusBadGateway, true},
		{"rate_limited", http.StatusTooManyRequests, true},
		{"bad_request", http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			wc := NewWhisperClient(srv.URL, "whisper-1", time.Second)
			_, err := wc.Transcribe(context.Background(), []byte("x"), "seg")
			if err == nil {
				t.Fatal("error expected")
			}
			if IsTransient(err) != tc.transient {
				t.Errorf("IsTransient = %v, want %v", IsTransient(err), tc.transient)
			}
		})
	}
}

type fakeProvider struct {
	calls  atomic.Int64
	failN  int64
	result *Result
	err    error
}

func (f *fakeProvider) Transcribe(ctx context.Context, data []byte, segID string) (*Result, error) {
	n := f.calls.Add(1)
	if n <= f.failN {
		return nil, &TransientError{errors.New("engine warming up")}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-1" }

func TestTranscribeWithRetry(t *testing.T) {
	t.Run("recovers_after_transient", func(t *testing.T) {
		fp := &fakeProvider{failN: 2, result: &Result{Utterance: "ok", Confidence: 0.9}}
		wp := NewWorkerPool(WorkerPoolOptions{Provider: fp, Log: zerolog.Nop()})

		res, err := wp.transcribeWithRetry(context.Background(), []byte("x"), "seg")
		if err != nil {
			t.Fatalf("transcribeWithRetry: %v", err)
		}
		if res.Utterance != "ok" {
			t.Errorf("Utterance = %q", res.Utterance)
		}
		if fp.calls.Load() != 3 {
			t.Errorf("calls = %d, want 3 (two retries)", fp.calls.Load())
		}
	})

	t.Run("gives_up_after_max_retries", func(t *testing.T) {
		fp := &fakeProvider{failN: 10}
		wp := NewWorkerPool(WorkerPoolOptions{Provider: fp, Log: zerolog.Nop()})

		if _, err := wp.transcribeWithRetry(context.Background(), []byte("x"), "seg"); err == nil {
			t.Fatal("error expected after exhausted retries")
		}
		if fp.calls.Load() != 3 {
			t.Errorf("calls = %d, want 3", fp.calls.Load())
		}
	})

	t.Run("permanent_error_not_retried", func(t *testing.T) {
		fp := &fakeProvider{err: errors.New("unsupported codec")}
		wp := NewWorkerPool(WorkerPoolOptions{Provider: fp, Log: zerolog.Nop()})

		if _, err := wp.transcribeWithRetry(context.Background(), []byte("x"), "seg"); err == nil {
			t.Fatal("error expected")
		}
		if fp.calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", fp.calls.Load())
		}
	})
}
