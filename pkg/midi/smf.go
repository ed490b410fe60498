// Package midi re-encodes decoded MUS scores as Standard MIDI File bytes
// and flattens those bytes into an absolute-time playback timeline.
package midi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ivanfourie/wad-music-test/pkg/mus"
)

// The interchange timebase is pinned so that the tempo meta event
// reproduces the MUS native rate exactly:
//
//	ticks/s = TicksPerQuarter * 1e6 / MicrosPerQuarter = 140
//
// The relation is integer-exact; any drift here would detune every song.
const (
	TicksPerQuarter  = mus.TickRate
	MicrosPerQuarter = 1_000_000
)

// maxVarLen is the largest delta a standard 4-byte SMF variable-length
// quantity can carry.
const maxVarLen = 0x0FFFFFFF

var ErrEventOutOfRange = errors.New("midi: event out of range")

// Encode serializes a decoded score as a format-0 SMF with a single track:
// an initial tempo meta event followed by the score's channel events. The
// decoder has already clamped parameter bytes, so a range violation here
// means the event sequence was constructed by hand and is a caller bug.
func Encode(score *mus.Score) ([]byte, error) {
	var track bytes.Buffer

	// Tempo meta event at tick 0 establishing the native-rate relation.
	track.Write([]byte{0x00, 0xFF, 0x51, 0x03})
	track.Write([]byte{
		byte(MicrosPerQuarter >> 16),
		byte(MicrosPerQuarter >> 8 & 0xFF),
		byte(MicrosPerQuarter & 0xFF),
	})

	sawEnd := false
	for _, e := range score.Events {
		if err := writeVarLen(&track, e.Delta); err != nil {
			return nil, err
		}
		if e.Channel > 15 {
			return nil, fmt.Errorf("%w: channel %d", ErrEventOutOfRange, e.Channel)
		}
		switch e.Kind {
		case mus.NoteOff:
			if err := writeData(&track, 0x80|e.Channel, e.Key, 0); err != nil {
				return nil, err
			}
		case mus.NoteOn:
			if err := writeData(&track, 0x90|e.Channel, e.Key, e.Velocity); err != nil {
				return nil, err
			}
		case mus.Controller:
			if err := writeData(&track, 0xB0|e.Channel, e.Controller, e.Value); err != nil {
				return nil, err
			}
		case mus.ProgramChange:
			if e.Value > 0x7F {
				return nil, fmt.Errorf("%w: program %d", ErrEventOutOfRange, e.Value)
			}
			track.Write([]byte{0xC0 | e.Channel, e.Value})
		case mus.PitchBend:
			if e.Bend > 0x3FFF {
				return nil, fmt.Errorf("%w: pitch bend %d", ErrEventOutOfRange, e.Bend)
			}
			track.Write([]byte{0xE0 | e.Channel, byte(e.Bend & 0x7F), byte(e.Bend >> 7)})
		case mus.ScoreEnd:
			track.Write([]byte{0xFF, 0x2F, 0x00})
			sawEnd = true
		default:
			return nil, fmt.Errorf("%w: kind %v", ErrEventOutOfRange, e.Kind)
		}
		if sawEnd {
			break
		}
	}
	if !sawEnd {
		// SMF tracks must terminate; the decoder always emits a ScoreEnd,
		// but hand-built sequences may not.
		track.Write([]byte{0x00, 0xFF, 0x2F, 0x00})
	}

	var out bytes.Buffer
	out.WriteString("MThd")
	binary.Write(&out, binary.BigEndian, uint32(6))
	binary.Write(&out, binary.BigEndian, uint16(0)) // format 0
	binary.Write(&out, binary.BigEndian, uint16(1)) // one track
	binary.Write(&out, binary.BigEndian, uint16(TicksPerQuarter))
	out.WriteString("MTrk")
	binary.Write(&out, binary.BigEndian, uint32(track.Len()))
	out.Write(track.Bytes())
	return out.Bytes(), nil
}

func writeData(track *bytes.Buffer, status, d1, d2 uint8) error {
	if d1 > 0x7F || d2 > 0x7F {
		return fmt.Errorf("%w: data bytes %d %d", ErrEventOutOfRange, d1, d2)
	}
	track.Write([]byte{status, d1, d2})
	return nil
}

// writeVarLen emits an SMF variable-length quantity: big-endian groups of
// seven bits, continuation flagged in bit 7 of every byte but the last.
// The bit-packing matches the MUS delta scheme only by coincidence of both
// being base-128; the two are encoded and decoded independently.
func writeVarLen(track *bytes.Buffer, v uint32) error {
	if v > maxVarLen {
		return fmt.Errorf("%w: delta %d exceeds the 4-byte variable-length limit", ErrEventOutOfRange, v)
	}
	var enc [4]byte
	i := 3
	enc[i] = byte(v & 0x7F)
	for v >>= 7; v > 0; v >>= 7 {
		i--
		enc[i] = byte(v&0x7F) | 0x80
	}
	track.Write(enc[i:])
	return nil
}
