// Package mus decodes the DMX compact music format ("MUS") found in
// DOOM-family WAD lumps into a flat sequence of timed musical events.
//
// The format packs one event per byte plus parameter bytes: the low four
// bits select a channel, bits 4-6 the event type, and bit 7 marks that a
// variable-length delta-time follows the event's parameters. Events
// without the flag share the tick of the preceding timing group.
package mus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// TickRate is the native MUS tick rate in ticks per second.
const TickRate = 140

const (
	headerSize = 16
	musMagic   = "MUS\x1a"

	musPercussionChannel  = 15
	midiPercussionChannel = 9

	defaultVelocity = 100
)

var (
	ErrBadHeader      = errors.New("mus: bad header")
	ErrTruncated      = errors.New("mus: truncated score")
	ErrUnexpectedEOF  = errors.New("mus: unexpected end of event stream")
	ErrUnknownEvent   = errors.New("mus: unknown event")
	ErrTimingOverflow = errors.New("mus: delta-time accumulation overflow")
)

// Kind discriminates the decoded event variants.
type Kind uint8

const (
	NoteOff Kind = iota
	NoteOn
	PitchBend
	Controller
	ProgramChange
	ScoreEnd
)

func (k Kind) String() string {
	switch k {
	case NoteOff:
		return "NoteOff"
	case NoteOn:
		return "NoteOn"
	case PitchBend:
		return "PitchBend"
	case Controller:
		return "Controller"
	case ProgramChange:
		return "ProgramChange"
	case ScoreEnd:
		return "ScoreEnd"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Event is one timed musical event. Delta is the tick distance from the
// previous event in the sequence; the payload fields used depend on Kind.
type Event struct {
	Delta   uint32
	Kind    Kind
	Channel uint8 // MIDI channel, percussion already remapped to 9

	Key      uint8 // NoteOn, NoteOff
	Velocity uint8 // NoteOn

	Controller uint8 // Controller
	Value      uint8 // Controller, ProgramChange

	Bend uint16 // PitchBend, 14-bit, 8192 = center
}

// Score is the decoded form of one MUS lump.
type Score struct {
	Events     []Event
	TotalTicks uint64 // cumulative tick position of the last event

	PrimaryChannels   int
	SecondaryChannels int
	Instruments       []uint16

	Clamped int // out-of-range parameter bytes clamped during decode
}

// Controller numbers from the MUS "change controller" event, translated
// to their MIDI controller equivalents.
var controllerMap = [10]uint8{
	1: 0,   // bank select
	2: 1,   // modulation
	3: 7,   // volume
	4: 10,  // pan
	5: 11,  // expression
	6: 91,  // reverb depth
	7: 93,  // chorus depth
	8: 64,  // sustain pedal
	9: 67,  // soft pedal
}

// System event values, translated to MIDI channel mode controllers.
var systemMap = map[uint8]uint8{
	10: 120, // all sounds off
	11: 123, // all notes off
	12: 126, // mono
	13: 127, // poly
	14: 121, // reset all controllers
}

// Decode parses a MUS lump into a Score. Decoding is a pure function of
// the input: the per-channel running-velocity cache lives only for the
// duration of one call, so no state leaks between lumps.
func Decode(data []byte) (*Score, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than the header", ErrBadHeader, len(data))
	}
	if string(data[0:4]) != musMagic {
		return nil, fmt.Errorf("%w: bad magic % x", ErrBadHeader, data[0:4])
	}
	scoreLen := int(binary.LittleEndian.Uint16(data[4:6]))
	scoreStart := int(binary.LittleEndian.Uint16(data[6:8]))
	primary := int(binary.LittleEndian.Uint16(data[8:10]))
	secondary := int(binary.LittleEndian.Uint16(data[10:12]))
	numInstruments := int(binary.LittleEndian.Uint16(data[12:14]))

	if scoreStart < headerSize {
		return nil, fmt.Errorf("%w: score start %d inside header", ErrBadHeader, scoreStart)
	}
	if headerSize+2*numInstruments > len(data) {
		return nil, fmt.Errorf("%w: instrument list truncated", ErrBadHeader)
	}
	if scoreStart+scoreLen > len(data) {
		return nil, fmt.Errorf("%w: declared score [%d, %d) exceeds %d byte lump",
			ErrTruncated, scoreStart, scoreStart+scoreLen, len(data))
	}

	instruments := make([]uint16, numInstruments)
	for i := range instruments {
		instruments[i] = binary.LittleEndian.Uint16(data[headerSize+2*i:])
	}

	s := &Score{
		PrimaryChannels:   primary,
		SecondaryChannels: secondary,
		Instruments:       instruments,
	}

	d := decoder{stream: data[scoreStart : scoreStart+scoreLen], score: s}
	for i := range d.lastVelocity {
		d.lastVelocity[i] = defaultVelocity
	}
	if err := d.run(); err != nil {
		return nil, err
	}
	return s, nil
}

// decoder threads the cursor, the pending timing-group delta and the
// running-velocity cache through one decode.
type decoder struct {
	stream []byte
	pos    int
	score  *Score

	pending      uint32    // delta owed to the next emitted event
	lastVelocity [16]uint8 // per MUS channel
}

func (d *decoder) run() error {
	for d.pos < len(d.stream) {
		b, err := d.next()
		if err != nil {
			return err
		}
		hasDelta := b&0x80 != 0
		kind := (b >> 4) & 0x07
		musChannel := b & 0x0F

		done, err := d.event(kind, musChannel)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if hasDelta {
			delta, err := d.readVarLen()
			if err != nil {
				return err
			}
			d.pending, err = addDelta(d.pending, delta)
			if err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: no score-end event", ErrTruncated)
}

// event decodes the parameter bytes of one event and emits it. The
// returned bool is true for score-end.
func (d *decoder) event(kind, musChannel uint8) (bool, error) {
	ch := mapChannel(musChannel)
	switch kind {
	case 0: // release note
		key, err := d.next()
		if err != nil {
			return false, err
		}
		return false, d.emit(Event{Kind: NoteOff, Channel: ch, Key: key & 0x7F})

	case 1: // play note
		key, err := d.next()
		if err != nil {
			return false, err
		}
		vel := d.lastVelocity[musChannel]
		if key&0x80 != 0 {
			// Explicit velocity retransmission; remember it for the channel.
			v, err := d.next()
			if err != nil {
				return false, err
			}
			vel = d.clamp7(v)
			d.lastVelocity[musChannel] = vel
		}
		return false, d.emit(Event{Kind: NoteOn, Channel: ch, Key: key & 0x7F, Velocity: vel})

	case 2: // pitch wheel, one byte, 128 = center
		v, err := d.next()
		if err != nil {
			return false, err
		}
		return false, d.emit(Event{Kind: PitchBend, Channel: ch, Bend: uint16(v) * 64})

	case 3: // system event, one byte selecting a channel mode controller
		v, err := d.next()
		if err != nil {
			return false, err
		}
		cc, ok := systemMap[v]
		if !ok {
			return false, fmt.Errorf("%w: system event %d", ErrUnknownEvent, v)
		}
		return false, d.emit(Event{Kind: Controller, Channel: ch, Controller: cc})

	case 4: // change controller; number 0 is a program change
		num, err := d.next()
		if err != nil {
			return false, err
		}
		val, err := d.next()
		if err != nil {
			return false, err
		}
		if num == 0 {
			return false, d.emit(Event{Kind: ProgramChange, Channel: ch, Value: d.clamp7(val)})
		}
		if int(num) >= len(controllerMap) {
			return false, fmt.Errorf("%w: controller number %d", ErrUnknownEvent, num)
		}
		return false, d.emit(Event{
			Kind: Controller, Channel: ch,
			Controller: controllerMap[num], Value: d.clamp7(val),
		})

	case 5: // end of measure, no payload, kept only for stream sync
		return false, nil

	case 6: // score end
		return true, d.emit(Event{Kind: ScoreEnd, Channel: ch})

	case 7: // unused, but carries one byte that must be consumed for sync
		_, err := d.next()
		return false, err
	}
	// All eight 3-bit event types are handled above.
	panic("unreachable")
}

// emit attaches the pending timing-group delta to the event and advances
// the cumulative tick counter with an overflow check.
func (d *decoder) emit(e Event) error {
	e.Delta = d.pending
	d.pending = 0
	total, err := AddTicks(d.score.TotalTicks, e.Delta)
	if err != nil {
		return err
	}
	d.score.TotalTicks = total
	d.score.Events = append(d.score.Events, e)
	return nil
}

func (d *decoder) next() (byte, error) {
	if d.pos >= len(d.stream) {
		return 0, fmt.Errorf("%w: at offset %d", ErrUnexpectedEOF, d.pos)
	}
	b := d.stream[d.pos]
	d.pos++
	return b, nil
}

// readVarLen reads the MUS base-128 delta-time: seven value bits per byte,
// high-to-low, with bit 7 flagging a continuation.
func (d *decoder) readVarLen() (uint32, error) {
	var val uint64
	for {
		b, err := d.next()
		if err != nil {
			return 0, err
		}
		val = val<<7 | uint64(b&0x7F)
		if val > math.MaxUint32 {
			return 0, fmt.Errorf("%w: variable-length delta exceeds 32 bits", ErrTimingOverflow)
		}
		if b&0x80 == 0 {
			return uint32(val), nil
		}
	}
}

// clamp7 forces a parameter byte into 0..127, counting the repair. Corrupt
// but playable lumps exist in the wild, so clamping beats failing here.
func (d *decoder) clamp7(v uint8) uint8 {
	if v > 0x7F {
		d.score.Clamped++
		return 0x7F
	}
	return v
}

// AddTicks adds a delta to a cumulative tick position, failing with
// ErrTimingOverflow instead of wrapping. Every tick accumulation in the
// pipeline goes through this check.
func AddTicks(total uint64, delta uint32) (uint64, error) {
	if total > math.MaxUint64-uint64(delta) {
		return 0, fmt.Errorf("%w: %d + %d exceeds 64 bits", ErrTimingOverflow, total, delta)
	}
	return total + uint64(delta), nil
}

func addDelta(pending, delta uint32) (uint32, error) {
	if pending > math.MaxUint32-delta {
		return 0, fmt.Errorf("%w: timing group delta exceeds 32 bits", ErrTimingOverflow)
	}
	return pending + delta, nil
}

func mapChannel(musChannel uint8) uint8 {
	if musChannel == musPercussionChannel {
		return midiPercussionChannel
	}
	return musChannel
}
