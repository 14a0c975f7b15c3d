package audio

import (
	"bytes"
	"net/http"
)

// DetectContentType sniffs the container format of an audio payload.
// Falls back to http.DetectContentType for anything that isn't one of the
// formats the bridge actually emits.
func DetectContentType(data []byte) string {
	switch {
	case IsWAV(data):
		return "audio/wav"
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		return "audio/mp4"
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return "audio/mpeg"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "audio/mpeg"
	default:
		return http.DetectContentType(data)
	}
}

// ExtForContentType maps a content type to a blob filename extension.
func ExtForContentType(ct string) string {
	switch ct {
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4":
		return ".m4a"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".bin"
	}
}
