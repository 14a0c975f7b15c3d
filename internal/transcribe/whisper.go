package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"time"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
type WhisperClient struct {
	url    string
	model  string
	client *http.Client
}

// whisperResponse is the verbose_json response shape. Segment log
// probabilities drive the confidence estimate; word timestamps bound the
// utterance.
type whisperResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (wc *WhisperClient) Name() string  { return "whisper" }
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe posts the audio blob as multipart/form-data. Works with
// speaches or any OpenAI-compatible endpoint; unknown form fields are
// ignored server-side.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioData []byte, segmentID string) (*Result, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", segmentID+".wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}

	if wc.model != "" {
		w.WriteField("model", wc.model)
	}
	w.WriteField("language", "en")
	w.WriteField("temperature", "0.00")
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "word")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, &TransientError{fmt.Errorf("whisper request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{fmt.Errorf("whisper API status %d: %s", resp.StatusCode, body)}
	default:
		return nil, fmt.Errorf("whisper API status %d: %s", resp.StatusCode, body)
	}

	var wr whisperResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	res := &Result{
		Utterance:  wr.Text,
		Confidence: confidenceFromSegments(wr),
	}
	if len(wr.Words) > 0 {
		res.StartMs = int(wr.Words[0].Start * 1000)
		res.EndMs = int(wr.Words[len(wr.Words)-1].End * 1000)
	}
	return res, nil
}

// confidenceFromSegments converts mean segment log probability to [0,1].
// No segment data means the server runs a reduced response shape; assume a
// middling 0.8 rather than zero so post-processing still runs.
func confidenceFromSegments(wr whisperResponse) float64 {
	if len(wr.Segments) == 0 {
		if wr.Text == "" {
			return 0
		}
		return 0.8
	}
	var sum float64
	for _, s := range wr.Segments {
		sum += s.AvgLogprob
	}
	conf := math.Exp(sum / float64(len(wr.Segments)))
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}
