package audio

import (
	"encoding/binary"
	"io"

	"github.com/ivanfourie/wad-music-test/pkg/midi"
	"github.com/ivanfourie/wad-music-test/pkg/player"
)

// WAVWriter writes 16-bit PCM audio in WAV format.
type WAVWriter struct {
	writer     io.Writer
	sampleRate int
	channels   int
}

// NewWAVWriter creates a WAV writer.
func NewWAVWriter(w io.Writer, sampleRate, channels int) *WAVWriter {
	return &WAVWriter{
		writer:     w,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// WriteHeader writes the RIFF/fmt/data headers for dataSize bytes of PCM.
func (w *WAVWriter) WriteHeader(dataSize int) error {
	// RIFF header
	w.writer.Write([]byte("RIFF"))
	binary.Write(w.writer, binary.LittleEndian, uint32(dataSize+36))
	w.writer.Write([]byte("WAVE"))

	// fmt chunk
	w.writer.Write([]byte("fmt "))
	binary.Write(w.writer, binary.LittleEndian, uint32(16))           // Chunk size
	binary.Write(w.writer, binary.LittleEndian, uint16(1))            // PCM format
	binary.Write(w.writer, binary.LittleEndian, uint16(w.channels))   // Channels
	binary.Write(w.writer, binary.LittleEndian, uint32(w.sampleRate)) // Sample rate
	byteRate := w.sampleRate * w.channels * 2
	binary.Write(w.writer, binary.LittleEndian, uint32(byteRate)) // Byte rate
	blockAlign := w.channels * 2
	binary.Write(w.writer, binary.LittleEndian, uint16(blockAlign)) // Block align
	binary.Write(w.writer, binary.LittleEndian, uint16(16))         // Bits per sample

	// data chunk header
	w.writer.Write([]byte("data"))
	return binary.Write(w.writer, binary.LittleEndian, uint32(dataSize))
}

// WriteStereo writes interleaved stereo float samples as 16-bit PCM.
func (w *WAVWriter) WriteStereo(left, right []float32) error {
	for i := range left {
		if err := binary.Write(w.writer, binary.LittleEndian, sampleToInt16(left[i])); err != nil {
			return err
		}
		if err := binary.Write(w.writer, binary.LittleEndian, sampleToInt16(right[i])); err != nil {
			return err
		}
	}
	return nil
}

// tailSeconds pads the export past the last event so note releases and
// reverb have room to decay.
const tailSeconds = 1

// ExportWAV renders a timeline offline through the source and writes the
// result as stereo 16-bit WAV. No clock is involved: the gap between
// events is converted straight into sample counts, so the export runs as
// fast as the synthesizer can render.
func ExportWAV(w io.Writer, tl *midi.Timeline, source Source) error {
	sampleRate := source.SampleRate()
	totalMicros := tl.LengthMicros + tailSeconds*1_000_000
	totalSamples := int(totalMicros * uint64(sampleRate) / 1_000_000)
	dataSize := totalSamples * 4 // stereo, 2 bytes per sample

	wavWriter := NewWAVWriter(w, sampleRate, 2)
	if err := wavWriter.WriteHeader(dataSize); err != nil {
		return err
	}

	const chunkSize = 4096
	left := make([]float32, chunkSize)
	right := make([]float32, chunkSize)

	// render pulls n samples from the source in chunks and writes them.
	render := func(n int) error {
		for n > 0 {
			c := n
			if c > chunkSize {
				c = chunkSize
			}
			source.Render(left[:c], right[:c])
			if err := wavWriter.WriteStereo(left[:c], right[:c]); err != nil {
				return err
			}
			n -= c
		}
		return nil
	}

	written := 0
	for _, ev := range tl.Events {
		at := int(ev.Micros * uint64(sampleRate) / 1_000_000)
		if at > totalSamples {
			at = totalSamples
		}
		if at > written {
			if err := render(at - written); err != nil {
				return err
			}
			written = at
		}
		player.Dispatch(source, ev.Msg)
	}

	if totalSamples > written {
		if err := render(totalSamples - written); err != nil {
			return err
		}
	}
	return nil
}
