package audio

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	data := int16sToBytes([]int16{0, 1000, -1000, 32767, -32768})
	raw := EncodeWAV(data, 22050, 1, 16)

	w, err := DecodeWAV(raw)
	if err != nil {
		t.Fatalf("DecodeWAV() error: %v", err)
	}
	if w.SampleRate != 22050 || w.Channels != 1 || w.BitsPerSample != 16 {
		t.Errorf("format = %dHz/%dch/%dbit", w.SampleRate, w.Channels, w.BitsPerSample)
	}
	if !bytes.Equal(w.Data, data) {
		t.Errorf("Data = %v, want %v", w.Data, data)
	}
}

func TestDecodeWAV_NotWAV(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{nil, []byte("hello"), []byte("RIFFxxxxMP3 ")} {
		if _, err := DecodeWAV(in); !errors.Is(err, ErrNotWAV) {
			t.Errorf("DecodeWAV(%q) = %v, want ErrNotWAV", in, err)
		}
	}
}

func TestWAV_DurationMS(t *testing.T) {
	t.Parallel()

	// One second of 16kHz mono 16-bit audio is 32000 bytes.
	w := &WAV{SampleRate: 16000, Channels: 1, BitsPerSample: 16, Data: make([]byte, 32000)}
	if got := w.DurationMS(); got != 1000 {
		t.Errorf("DurationMS() = %d, want 1000", got)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	stereo := int16sToBytes([]int16{100, 200, -100, 100})
	mono := bytesToInt16s(StereoToMono(stereo))

	want := []int16{150, 0}
	if len(mono) != len(want) {
		t.Fatalf("got %d samples, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, mono[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	src := int16sToBytes(make([]int16, 1000))

	out := ResampleMono16(src, 22050, 48000)
	got := len(out) / 2
	want := 1000 * 48000 / 22050
	if got != want {
		t.Errorf("resampled to %d samples, want %d", got, want)
	}

	// Same-rate input passes through unchanged.
	if !bytes.Equal(ResampleMono16(src, 16000, 16000), src) {
		t.Error("same-rate resample should be identity")
	}
}

func TestOpusTranscoder_FramePacking(t *testing.T) {
	t.Parallel()

	// 100 ms of 16 kHz mono silence → five 20 ms frames.
	data := make([]byte, 16000/10*2)
	raw := EncodeWAV(data, 16000, 1, 16)

	out, err := NewOpusTranscoder(0).Transcode(raw)
	if err != nil {
		t.Fatalf("Transcode() error: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("Transcode() returned no packets")
	}

	// The output must parse cleanly as length-prefixed packets.
	packets := 0
	for off := 0; off < len(out); {
		if off+2 > len(out) {
			t.Fatalf("dangling length prefix at offset %d", off)
		}
		n := int(out[off])<<8 | int(out[off+1])
		off += 2 + n
		if off > len(out) {
			t.Fatalf("packet overruns buffer at offset %d", off)
		}
		packets++
	}
	if packets != 5 {
		t.Errorf("packed %d packets, want 5", packets)
	}
}

func TestOpusTranscoder_RejectsNonPCM16(t *testing.T) {
	t.Parallel()

	raw := EncodeWAV(make([]byte, 100), 16000, 1, 8)
	if _, err := NewOpusTranscoder(0).Transcode(raw); err == nil {
		t.Error("Transcode() should reject 8-bit input")
	}
}
