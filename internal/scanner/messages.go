package scanner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message kinds on the bridge socket.
type Kind int

const (
	KindUnknown Kind = iota
	KindCall
	KindConfig
	KindPong
)

// CallMessage is the bridge's per-transmission payload. Audio arrives as
// a base64 string, a raw byte array, or a URL to fetch.
type CallMessage struct {
	System         int             `json:"system"`
	Talkgroup      int             `json:"talkgroup"`
	DateTime       int64           `json:"dateTime"`
	Freq           float64         `json:"freq"`
	Duration       float64         `json:"duration"`
	Audio          json.RawMessage `json:"audio"`
	Source         string          `json:"source,omitempty"`
	TalkgroupLabel string          `json:"talkgroupLabel,omitempty"`
	SystemLabel    string          `json:"systemLabel,omitempty"`
	Unit           string          `json:"unit,omitempty"`
}

// Message is the tagged union decoded from one bridge frame. Unknown
// variants carry the raw type string for logging and are dropped.
type Message struct {
	Kind    Kind
	Call    *CallMessage
	Config  json.RawMessage
	RawType string
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one bridge frame into the tagged union.
func Decode(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, fmt.Errorf("bridge frame: %w", err)
	}

	switch env.Type {
	case "call":
		var cm CallMessage
		if err := json.Unmarshal(env.Data, &cm); err != nil {
			return Message{}, fmt.Errorf("call payload: %w", err)
		}
		return Message{Kind: KindCall, Call: &cm}, nil
	case "config":
		return Message{Kind: KindConfig, Config: env.Data}, nil
	case "pong":
		return Message{Kind: KindPong}, nil
	default:
		return Message{Kind: KindUnknown, RawType: env.Type}, nil
	}
}

// AudioPayload classifies the audio field of a call message.
type AudioPayload struct {
	// URL is set when the payload is a link to fetch.
	URL string
	// Base64 is set when the payload is an inline base64 string.
	Base64 string
	// Bytes is set when the payload is a raw JSON byte array.
	Bytes []byte
}

// DecodeAudio splits the polymorphic audio field into its variants. An
// absent or null field returns a zero payload (metadata-only segment).
func (cm *CallMessage) DecodeAudio() (AudioPayload, error) {
	if len(cm.Audio) == 0 || string(cm.Audio) == "null" {
		return AudioPayload{}, nil
	}

	var s string
	if err := json.Unmarshal(cm.Audio, &s); err == nil {
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			return AudioPayload{URL: s}, nil
		}
		return AudioPayload{Base64: s}, nil
	}

	var b []byte
	if err := json.Unmarshal(cm.Audio, &b); err == nil {
		return AudioPayload{Bytes: b}, nil
	}
	// JSON arrays of numbers also decode into []byte via base64 only for
	// strings; handle the numeric-array case explicitly.
	var nums []int
	if err := json.Unmarshal(cm.Audio, &nums); err == nil {
		raw := make([]byte, len(nums))
		for i, n := range nums {
			raw[i] = byte(n)
		}
		return AudioPayload{Bytes: raw}, nil
	}

	return AudioPayload{}, fmt.Errorf("unsupported audio payload shape")
}
