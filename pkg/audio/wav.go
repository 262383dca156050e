// Package audio provides WAV parsing and the optional WAV→Opus transcode
// applied to cached audio on the read path. The TTS service produces PCM WAV;
// everything here works on little-endian int16 samples.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned when the input does not carry a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a wav file")

// WAV is a decoded PCM WAV payload.
type WAV struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// Data is the raw sample data (interleaved little-endian int16 for
	// 16-bit files).
	Data []byte
}

// DecodeWAV parses a RIFF/WAVE byte stream. Only uncompressed PCM is
// supported; chunks other than fmt and data are skipped.
func DecodeWAV(b []byte) (*WAV, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	w := &WAV{}
	haveFmt := false
	off := 12
	for off+8 <= len(b) {
		chunkID := string(b[off : off+4])
		chunkLen := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+chunkLen > len(b) {
			// Tolerate a truncated final data chunk; some encoders stream
			// the header before knowing the length.
			if chunkID == "data" {
				chunkLen = len(b) - body
			} else {
				return nil, fmt.Errorf("audio: truncated %q chunk", chunkID)
			}
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, errors.New("audio: fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			if format != 1 { // PCM
				return nil, fmt.Errorf("audio: unsupported wav format %d (PCM only)", format)
			}
			w.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			w.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))
			haveFmt = true
		case "data":
			w.Data = b[body : body+chunkLen]
		}

		// Chunks are word-aligned.
		off = body + chunkLen
		if chunkLen%2 == 1 {
			off++
		}
	}

	if !haveFmt {
		return nil, errors.New("audio: missing fmt chunk")
	}
	if w.Data == nil {
		return nil, errors.New("audio: missing data chunk")
	}
	if w.Channels <= 0 || w.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid format %dch/%dHz", w.Channels, w.SampleRate)
	}
	return w, nil
}

// DurationMS returns the audio duration in milliseconds.
func (w *WAV) DurationMS() uint64 {
	bytesPerSecond := w.SampleRate * w.Channels * w.BitsPerSample / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return uint64(len(w.Data)) * 1000 / uint64(bytesPerSecond)
}

// EncodeWAV builds a minimal PCM WAV file around the given sample data.
func EncodeWAV(data []byte, sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	out := make([]byte, 0, 44+len(data))
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(data)))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1) // PCM
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate))
	out = binary.LittleEndian.AppendUint32(out, uint32(byteRate))
	out = binary.LittleEndian.AppendUint16(out, uint16(blockAlign))
	out = binary.LittleEndian.AppendUint16(out, uint16(bitsPerSample))
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, data...)
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to int16
// range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate the input is returned
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return pcm
	}

	src := bytesToInt16s(pcm)
	if len(src) == 0 {
		return nil
	}

	outLen := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if outLen == 0 {
		outLen = 1
	}
	dst := make([]int16, outLen)
	for i := range dst {
		pos := float64(i) * float64(srcRate) / float64(dstRate)
		j := int(pos)
		if j >= len(src)-1 {
			dst[i] = src[len(src)-1]
			continue
		}
		frac := pos - float64(j)
		dst[i] = int16(float64(src[j])*(1-frac) + float64(src[j+1])*frac)
	}
	return int16sToBytes(dst)
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// bytesToInt16s converts little-endian bytes to int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
