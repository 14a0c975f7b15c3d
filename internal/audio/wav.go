package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Canonical container for bridge audio: mono, 8 kHz, 16-bit PCM.
const (
	DefaultSampleRate = 8000
	DefaultChannels   = 1
	bitsPerSample     = 16
	wavHeaderSize     = 44
)

// WrapPCM wraps raw 16-bit PCM samples in a WAV container.
func WrapPCM(pcm []byte, sampleRate, channels int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}

	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16)) // PCM fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM format
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

// Info describes a parsed WAV header.
type Info struct {
	SampleRate int
	Channels   int
	DataLen    int
}

var errNotWAV = errors.New("not a wav container")

// ParseWAV reads the format chunk and locates the data chunk. Only the
// canonical PCM layout written by WrapPCM (and the bridge) is supported.
func ParseWAV(data []byte) (Info, []byte, error) {
	if !IsWAV(data) || len(data) < wavHeaderSize {
		return Info{}, nil, errNotWAV
	}

	var info Info
	// Walk chunks from offset 12.
	off := 12
	var pcm []byte
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size >= 16 {
				info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			}
		case "data":
			pcm = data[body : body+size]
			info.DataLen = size
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunk padding
		}
	}
	if pcm == nil {
		return Info{}, nil, errNotWAV
	}
	return info, pcm, nil
}

// Concat joins two audio blobs for a merged segment. When both are WAV files
// with matching sample rate and channel count the PCM streams are joined
// under one header; otherwise the primary blob is returned unchanged and the
// second return value is false.
func Concat(primary, secondary []byte) ([]byte, bool) {
	pi, pPCM, err1 := ParseWAV(primary)
	si, sPCM, err2 := ParseWAV(secondary)
	if err1 != nil || err2 != nil {
		return primary, false
	}
	if pi.SampleRate != si.SampleRate || pi.Channels != si.Channels {
		return primary, false
	}

	joined := make([]byte, 0, len(pPCM)+len(sPCM))
	joined = append(joined, pPCM...)
	joined = append(joined, sPCM...)
	return WrapPCM(joined, pi.SampleRate, pi.Channels), true
}

// DurationMs returns the audio duration of a canonical 16-bit PCM WAV blob,
// or 0 if the blob is not parseable.
func DurationMs(data []byte) int {
	info, pcm, err := ParseWAV(data)
	if err != nil || info.SampleRate == 0 || info.Channels == 0 {
		return 0
	}
	samples := len(pcm) / (info.Channels * bitsPerSample / 8)
	return samples * 1000 / info.SampleRate
}
