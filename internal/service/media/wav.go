package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// ErrUnsupportedWAV is returned for WAV data this package cannot decode.
var ErrUnsupportedWAV = errors.New("unsupported wav")

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

// Clip is decoded mono audio.
type Clip struct {
	Samples    []float64 // normalized to [-1, 1]
	PCM        []byte    // little-endian 16-bit mono
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// LoadWAV reads and decodes a WAV file.
func LoadWAV(path string) (Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, err
	}
	return DecodeWAV(data)
}

// DecodeWAV parses a 16-bit PCM RIFF/WAVE payload. Chunks may appear in any
// order; multi-channel audio is downmixed to mono.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedWAV)
	}

	var (
		format, channels, bits uint16
		rate                   uint32
		haveFmt                bool
		pcm                    []byte
		haveData               bool
	)

	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if size < 0 || end > len(data) {
			// tolerate a truncated final data chunk
			if id == "data" {
				end = len(data)
			} else {
				return Clip{}, fmt.Errorf("%w: chunk %q overruns payload", ErrUnsupportedWAV, id)
			}
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			rate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			pcm = data[body:end]
			haveData = true
		}

		// chunks are word aligned
		off = end + (end-body)%2
	}

	switch {
	case !haveFmt:
		return Clip{}, fmt.Errorf("%w: no fmt chunk", ErrUnsupportedWAV)
	case !haveData:
		return Clip{}, fmt.Errorf("%w: no data chunk", ErrUnsupportedWAV)
	case format != formatPCM && format != formatExtensible:
		return Clip{}, fmt.Errorf("%w: format %d is not PCM", ErrUnsupportedWAV, format)
	case bits != 16:
		return Clip{}, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedWAV, bits)
	case channels == 0:
		return Clip{}, fmt.Errorf("%w: zero channels", ErrUnsupportedWAV)
	}

	frame := int(channels) * 2
	frames := len(pcm) / frame
	clip := Clip{
		Samples:    make([]float64, frames),
		SampleRate: int(rate),
	}
	if channels == 1 {
		clip.PCM = pcm[:frames*2]
	} else {
		clip.PCM = make([]byte, frames*2)
	}

	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < int(channels); c++ {
			sum += float64(int16(binary.LittleEndian.Uint16(pcm[i*frame+c*2:])))
		}
		mean := sum / float64(channels)
		clip.Samples[i] = mean / 32768
		if channels > 1 {
			binary.LittleEndian.PutUint16(clip.PCM[i*2:], uint16(int16(math.Round(mean))))
		}
	}
	return clip, nil
}

// EncodeWAV wraps little-endian 16-bit mono PCM in a canonical 44-byte header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, 44+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], formatPCM)
	binary.LittleEndian.PutUint16(out[22:], 1)
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(out[32:], 2)
	binary.LittleEndian.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// PCM16 converts samples in [-1, 1] to little-endian 16-bit PCM.
func PCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(s*32767))))
	}
	return out
}
