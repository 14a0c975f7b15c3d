package audio

import (
	"encoding/binary"
	"testing"
)

func pcmSamples(n int) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(i))
	}
	return pcm
}

func TestWrapPCM(t *testing.T) {
	pcm := pcmSamples(8000) // 1s at 8kHz mono

	wav := WrapPCM(pcm, 8000, 1)

	if !IsWAV(wav) {
		t.Fatal("WrapPCM output is not recognized as WAV")
	}
	info, data, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != 8000 || info.Channels != 1 {
		t.Errorf("header = %+v, want 8000Hz mono", info)
	}
	if len(data) != len(pcm) {
		t.Errorf("data len = %d, want %d", len(data), len(pcm))
	}
	if got := DurationMs(wav); got != 1000 {
		t.Errorf("DurationMs = %d, want 1000", got)
	}
}

func TestWrapPCM_Defaults(t *testing.T) {
	wav := WrapPCM(pcmSamples(100), 0, 0)
	info, _, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != DefaultSampleRate || info.Channels != DefaultChannels {
		t.Errorf("defaults not applied: %+v", info)
	}
}

func TestConcat(t *testing.T) {
	t.Run("matching_formats_join_pcm", func(t *testing.T) {
		a := WrapPCM(pcmSamples(4000), 8000, 1) // 500ms
		b := WrapPCM(pcmSamples(8000), 8000, 1) // 1000ms

		joined, ok := Concat(a, b)
		if !ok {
			t.Fatal("Concat should succeed for matching formats")
		}
		if got := DurationMs(joined); got != 1500 {
			t.Errorf("joined duration = %dms, want 1500", got)
		}
	})

	t.Run("mismatched_rates_keep_primary", func(t *testing.T) {
		a := WrapPCM(pcmSamples(4000), 8000, 1)
		b := WrapPCM(pcmSamples(4000), 16000, 1)

		joined, ok := Concat(a, b)
		if ok {
			t.Fatal("Concat should refuse mismatched sample rates")
		}
		if len(joined) != len(a) {
			t.Error("primary blob should be returned unchanged")
		}
	})

	t.Run("non_wav_secondary_keeps_primary", func(t *testing.T) {
		a := WrapPCM(pcmSamples(4000), 8000, 1)
		if _, ok := Concat(a, []byte("not audio")); ok {
			t.Error("Concat should refuse non-WAV input")
		}
	})
}

func TestDetectContentType(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"wav", WrapPCM(pcmSamples(10), 8000, 1), "audio/wav"},
		{"m4a", append([]byte{0, 0, 0, 24}, []byte("ftypM4A ....")...), "audio/mp4"},
		{"mp3_id3", []byte("ID3\x04\x00\x00\x00\x00\x00\x00"), "audio/mpeg"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectContentType(tc.data); got != tc.want {
				t.Errorf("DetectContentType = %q, want %q", got, tc.want)
			}
		})
	}
}
