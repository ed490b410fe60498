package mus

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMUS assembles a lump from a raw event stream and instrument list.
func buildMUS(events []byte, instruments []uint16) []byte {
	scoreStart := headerSize + 2*len(instruments)
	var buf []byte
	buf = append(buf, musMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(events)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(scoreStart))
	buf = binary.LittleEndian.AppendUint16(buf, 1) // primary channels
	buf = binary.LittleEndian.AppendUint16(buf, 0) // secondary channels
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(instruments)))
	buf = binary.LittleEndian.AppendUint16(buf, 0) // reserved
	for _, inst := range instruments {
		buf = binary.LittleEndian.AppendUint16(buf, inst)
	}
	return append(buf, events...)
}

// The canonical three-event score: note-on ch0 key 60 vel 100 at tick 0,
// note-off 70 ticks later, score end.
var testScore = []byte{
	0x90, 0xBC, 100, 0x46, // play note, explicit velocity, delta 70
	0x00, 0x3C, // release note
	0x60, // score end
}

func cumulativeTicks(events []Event) []uint64 {
	ticks := make([]uint64, len(events))
	var total uint64
	for i, e := range events {
		total += uint64(e.Delta)
		ticks[i] = total
	}
	return ticks
}

func TestDecodeMinimalScore(t *testing.T) {
	s, err := Decode(buildMUS(testScore, []uint16{0}))
	require.NoError(t, err)

	require.Len(t, s.Events, 3)
	assert.Equal(t, Event{Kind: NoteOn, Channel: 0, Key: 60, Velocity: 100}, s.Events[0])
	assert.Equal(t, Event{Kind: NoteOff, Channel: 0, Key: 60, Delta: 70}, s.Events[1])
	assert.Equal(t, Event{Kind: ScoreEnd}, s.Events[2])
	assert.Equal(t, []uint64{0, 70, 70}, cumulativeTicks(s.Events))
	assert.Equal(t, uint64(70), s.TotalTicks)
	assert.Equal(t, []uint16{0}, s.Instruments)
	assert.Equal(t, 1, s.PrimaryChannels)
	assert.Zero(t, s.Clamped)
}

func TestRunningVelocityPerChannel(t *testing.T) {
	events := []byte{
		0x10, 0xBC, 90, // ch0: key 60, explicit velocity 90
		0x11, 0xBE, 40, // ch1: key 62, explicit velocity 40
		0x10, 0x40, // ch0: key 64, no velocity byte -> reuse 90
		0x11, 0x41, // ch1: key 65, no velocity byte -> reuse 40
		0x60,
	}
	s, err := Decode(buildMUS(events, nil))
	require.NoError(t, err)

	require.Len(t, s.Events, 5)
	assert.Equal(t, uint8(90), s.Events[0].Velocity)
	assert.Equal(t, uint8(40), s.Events[1].Velocity)
	assert.Equal(t, uint8(90), s.Events[2].Velocity)
	assert.Equal(t, uint8(40), s.Events[3].Velocity)
}

func TestRunningVelocityResetsPerDecode(t *testing.T) {
	withVel := []byte{0x10, 0xBC, 33, 0x60}
	withoutVel := []byte{0x10, 0x3C, 0x60}

	s, err := Decode(buildMUS(withVel, nil))
	require.NoError(t, err)
	assert.Equal(t, uint8(33), s.Events[0].Velocity)

	// A fresh decode must not see the 33 cached by the previous lump.
	s, err = Decode(buildMUS(withoutVel, nil))
	require.NoError(t, err)
	assert.Equal(t, uint8(defaultVelocity), s.Events[0].Velocity)
}

func TestTimingGroups(t *testing.T) {
	// Three events in one tick group, then a delayed group: the delta
	// belongs to the first event after the flagged one.
	events := []byte{
		0x10, 0xBC, 100, // note on, same tick
		0x11, 0xBE, 100, // note on, same tick
		0x92, 0xC0, 100, 0x81, 0x48, // note on + two-byte delta 200
		0x00, 0x3C, // note off, 200 ticks later
		0x60,
	}
	s, err := Decode(buildMUS(events, nil))
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0, 0, 200, 200}, cumulativeTicks(s.Events))
}

func TestPitchBendMapping(t *testing.T) {
	cases := []struct {
		raw  byte
		bend uint16
	}{
		{0, 0},        // bottom of the wheel
		{128, 8192},   // center, no bend
		{255, 16320},  // top of the wheel
	}
	for _, c := range cases {
		events := []byte{0x20, c.raw, 0x60}
		s, err := Decode(buildMUS(events, nil))
		require.NoError(t, err)
		assert.Equal(t, PitchBend, s.Events[0].Kind)
		assert.Equal(t, c.bend, s.Events[0].Bend, "raw %d", c.raw)
	}
}

func TestSystemEventsMapToChannelMode(t *testing.T) {
	events := []byte{0x30, 11, 0x60} // all notes off
	s, err := Decode(buildMUS(events, nil))
	require.NoError(t, err)
	assert.Equal(t, Controller, s.Events[0].Kind)
	assert.Equal(t, uint8(123), s.Events[0].Controller)

	_, err = Decode(buildMUS([]byte{0x30, 99, 0x60}, nil))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestControllerTranslation(t *testing.T) {
	events := []byte{
		0x40, 3, 101, // MUS volume -> CC 7
		0x40, 0, 25, // controller 0 is a program change
		0x60,
	}
	s, err := Decode(buildMUS(events, nil))
	require.NoError(t, err)

	assert.Equal(t, Controller, s.Events[0].Kind)
	assert.Equal(t, uint8(7), s.Events[0].Controller)
	assert.Equal(t, uint8(101), s.Events[0].Value)

	assert.Equal(t, ProgramChange, s.Events[1].Kind)
	assert.Equal(t, uint8(25), s.Events[1].Value)

	_, err = Decode(buildMUS([]byte{0x40, 12, 0, 0x60}, nil))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestPercussionChannelRemap(t *testing.T) {
	events := []byte{0x1F, 0xA3, 100, 0x60} // MUS channel 15
	s, err := Decode(buildMUS(events, nil))
	require.NoError(t, err)
	assert.Equal(t, uint8(9), s.Events[0].Channel)
}

func TestOutOfRangeValuesClampedAndCounted(t *testing.T) {
	events := []byte{
		0x10, 0xBC, 0xFF, // velocity 255 -> 127
		0x40, 3, 0xC8, // controller value 200 -> 127
		0x60,
	}
	s, err := Decode(buildMUS(events, nil))
	require.NoError(t, err)
	assert.Equal(t, uint8(127), s.Events[0].Velocity)
	assert.Equal(t, uint8(127), s.Events[1].Value)
	assert.Equal(t, 2, s.Clamped)
}

func TestHeaderValidation(t *testing.T) {
	_, err := Decode([]byte("MUS"))
	assert.ErrorIs(t, err, ErrBadHeader)

	_, err = Decode([]byte("NOTMUSIC........"))
	assert.ErrorIs(t, err, ErrBadHeader)

	// Declared score length runs past the lump.
	lump := buildMUS(testScore, nil)
	binary.LittleEndian.PutUint16(lump[4:6], uint16(len(testScore)+50))
	_, err = Decode(lump)
	assert.ErrorIs(t, err, ErrTruncated)

	// Score start inside the header.
	lump = buildMUS(testScore, nil)
	binary.LittleEndian.PutUint16(lump[6:8], 4)
	_, err = Decode(lump)
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestMissingScoreEndIsTruncated(t *testing.T) {
	events := []byte{0x10, 0xBC, 100} // ends without a score-end event
	_, err := Decode(buildMUS(events, nil))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestMidEventEOF(t *testing.T) {
	events := []byte{0x10} // play note with no key byte
	_, err := Decode(buildMUS(events, nil))
	assert.ErrorIs(t, err, ErrUnexpectedEOF)

	events = []byte{0x90, 0xBC, 100} // delta flagged but stream ends
	_, err = Decode(buildMUS(events, nil))
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestVarLenDelta(t *testing.T) {
	// 0x81 0x48 is 200 in the base-128 encoding.
	events := []byte{0x80, 0x3C, 0x81, 0x48, 0x00, 0x3C, 0x60}
	s, err := Decode(buildMUS(events, nil))
	require.NoError(t, err)
	assert.Equal(t, uint32(200), s.Events[1].Delta)

	// A delta that never terminates within 32 bits must be rejected,
	// not silently wrapped.
	events = []byte{0x80, 0x3C, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F, 0x00, 0x3C, 0x60}
	_, err = Decode(buildMUS(events, nil))
	assert.ErrorIs(t, err, ErrTimingOverflow)
}

func TestAddTicksChecked(t *testing.T) {
	total, err := AddTicks(10, 70)
	require.NoError(t, err)
	assert.Equal(t, uint64(80), total)

	_, err = AddTicks(math.MaxUint64-5, 100)
	assert.ErrorIs(t, err, ErrTimingOverflow)

	// Saturated accumulation right at the boundary is still fine.
	total, err = AddTicks(math.MaxUint64-100, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), total)
}

func TestEndOfMeasureAndPaddingEventsKeepSync(t *testing.T) {
	events := []byte{
		0x50,       // end of measure, no payload
		0x70, 0xAB, // unused type 7 carries one byte
		0x10, 0xBC, 100,
		0x60,
	}
	s, err := Decode(buildMUS(events, nil))
	require.NoError(t, err)
	require.Len(t, s.Events, 2)
	assert.Equal(t, NoteOn, s.Events[0].Kind)
}
