package audio

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Opus voice defaults: mono 20 ms frames, 32 kbps is plenty for speech.
const (
	opusFrameMS        = 20
	DefaultOpusBitrate = 32000
)

// opusSampleRates are the sample rates the Opus codec accepts natively.
// Input at any other rate is resampled to opusFallbackRate first.
var opusSampleRates = map[int]bool{
	8000: true, 12000: true, 16000: true, 24000: true, 48000: true,
}

const opusFallbackRate = 48000

// OpusTranscoder converts PCM WAV payloads into a stream of Opus packets for
// bandwidth-friendly delivery. Output framing is length-prefixed: each packet
// is preceded by its size as a big-endian uint16.
//
// A transcoder is stateless between calls and safe for concurrent use; the
// underlying encoder is created per call because Opus encoder state is
// per-stream.
type OpusTranscoder struct {
	bitrate int
}

// NewOpusTranscoder creates a transcoder targeting the given bitrate in bits
// per second. Non-positive values fall back to [DefaultOpusBitrate].
func NewOpusTranscoder(bitrate int) *OpusTranscoder {
	if bitrate <= 0 {
		bitrate = DefaultOpusBitrate
	}
	return &OpusTranscoder{bitrate: bitrate}
}

// Transcode decodes wavBytes, downmixes to mono, resamples to an
// Opus-supported rate when needed, and encodes 20 ms frames. The final
// partial frame is zero-padded.
func (t *OpusTranscoder) Transcode(wavBytes []byte) ([]byte, error) {
	w, err := DecodeWAV(wavBytes)
	if err != nil {
		return nil, fmt.Errorf("transcode: %w", err)
	}
	if w.BitsPerSample != 16 {
		return nil, fmt.Errorf("transcode: %d-bit wav not supported (16-bit only)", w.BitsPerSample)
	}

	pcm := w.Data
	if w.Channels == 2 {
		pcm = StereoToMono(pcm)
	} else if w.Channels != 1 {
		return nil, fmt.Errorf("transcode: %d channels not supported", w.Channels)
	}

	rate := w.SampleRate
	if !opusSampleRates[rate] {
		pcm = ResampleMono16(pcm, rate, opusFallbackRate)
		rate = opusFallbackRate
	}

	enc, err := gopus.NewEncoder(rate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("transcode: create opus encoder: %w", err)
	}
	enc.SetBitrate(t.bitrate)

	frameSize := rate * opusFrameMS / 1000
	samples := bytesToInt16s(pcm)

	var out []byte
	for start := 0; start < len(samples); start += frameSize {
		end := start + frameSize
		frame := samples[start:min(end, len(samples))]
		if len(frame) < frameSize {
			padded := make([]int16, frameSize)
			copy(padded, frame)
			frame = padded
		}

		packet, err := enc.Encode(frame, frameSize, frameSize*2)
		if err != nil {
			return nil, fmt.Errorf("transcode: opus encode: %w", err)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(packet)))
		out = append(out, packet...)
	}
	return out, nil
}
