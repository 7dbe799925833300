package ttsclient

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// decodeWAV reads a complete WAV payload into an in-memory PCM buffer.
func decodeWAV(data []byte) (*audio.IntBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if !dec.WasPCMAccessed() {
		return nil, fmt.Errorf("decode wav: no PCM data found")
	}
	return buf, nil
}

// crossfadeConcat joins a sequence of decoded PCM segments into a single
// buffer, overlapping crossfadeMS of audio between adjacent segments with
// a linear fade-out/fade-in. Segments are assumed to
// share sample rate, channel count, and bit depth — all come from the
// same TTS endpoint/voice within one chapter.
func crossfadeConcat(segments []*audio.IntBuffer, crossfadeMS int) (*audio.IntBuffer, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("crossfade concat: no segments")
	}

	format := segments[0].Format
	channels := format.NumChannels
	if channels <= 0 {
		channels = 1
	}

	out := make([]int, 0, segments[0].NumFrames()*channels*len(segments))
	out = append(out, segments[0].Data...)

	fadeFrames := (format.SampleRate * crossfadeMS) / 1000
	if fadeFrames < 0 {
		fadeFrames = 0
	}

	for i := 1; i < len(segments); i++ {
		next := segments[i].Data
		overlap := fadeFrames * channels
		if overlap > len(out) {
			overlap = len(out)
		}
		if overlap > len(next) {
			overlap = len(next)
		}

		if overlap <= channels {
			// Too short to crossfade meaningfully; just append.
			out = append(out, next...)
			continue
		}

		overlapFrames := overlap / channels
		tailStart := len(out) - overlap
		for f := 0; f < overlapFrames; f++ {
			t := float64(f) / float64(overlapFrames)
			for c := 0; c < channels; c++ {
				idx := tailStart + f*channels + c
				a := float64(out[idx])
				b := float64(next[f*channels+c])
				out[idx] = int(a*(1-t) + b*t)
			}
		}
		out = append(out, next[overlap:]...)
	}

	return &audio.IntBuffer{
		Format:         format,
		Data:           out,
		SourceBitDepth: segments[0].SourceBitDepth,
	}, nil
}

// encodeWAV writes a PCM buffer to outPath as a standard RIFF/WAVE file.
func encodeWAV(buf *audio.IntBuffer, outPath string) (err error) {
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create wav output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	enc := wav.NewEncoder(f, buf.Format.SampleRate, bitDepth, buf.Format.NumChannels, 1)
	if err = enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return enc.Close()
}

// readAll exists so callers can read an io.Reader into memory while
// producing a %w-wrappable error consistent with the rest of the package.
func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}
