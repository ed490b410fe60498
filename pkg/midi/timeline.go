package midi

import (
	"bytes"
	"fmt"
	"sort"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/ivanfourie/wad-music-test/pkg/mus"
)

// MsgKind discriminates normalized playback messages.
type MsgKind uint8

const (
	MsgNoteOn MsgKind = iota
	MsgNoteOff
	MsgProgram
	MsgControl
	MsgPitchBend
	MsgTempo
)

// Msg is one normalized channel or tempo message. Only the fields for the
// given Kind are meaningful.
type Msg struct {
	Kind    MsgKind
	Channel uint8

	Key      uint8
	Velocity uint8

	Program    uint8
	Controller uint8
	Value      uint8

	Bend uint16 // 14-bit, 8192 = center

	TempoMicros float64 // microseconds per quarter note
}

// TimedMsg is a message pinned to an absolute song time in microseconds.
type TimedMsg struct {
	Micros uint64
	Msg    Msg
}

// Timeline is a fully flattened song: every track merged, ticks resolved
// against the tempo map, ready for wall-clock scheduling.
type Timeline struct {
	Events       []TimedMsg
	LengthMicros uint64
	PPQ          uint16
	InitialTempo float64 // microseconds per quarter note
}

const (
	defaultPPQ   = 480
	defaultTempo = 500_000 // 120 BPM when the file carries no tempo event
)

// BuildTimeline parses interchange bytes and converts delta ticks into
// absolute microseconds, applying tempo meta events from the point they
// occur. Tick accumulation shares the decoder's checked-add contract: a
// track that would overflow the 64-bit counter fails with TimingOverflow
// instead of wrapping.
func BuildTimeline(data []byte) (*Timeline, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("midi: reading SMF: %w", err)
	}

	ppq := uint16(defaultPPQ)
	if tf, ok := s.TimeFormat.(smf.MetricTicks); ok {
		ppq = uint16(tf)
	}

	// Seed the initial tempo from the first tempo event in any track, the
	// way players do, so events before it don't run at the 120 BPM default.
	initialTempo := float64(defaultTempo)
scan:
	for _, tr := range s.Tracks {
		for _, ev := range tr {
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) {
				initialTempo = 60_000_000 / bpm
				break scan
			}
		}
	}

	tl := &Timeline{PPQ: ppq, InitialTempo: initialTempo}
	for _, tr := range s.Tracks {
		// Tempo changes apply from the point they occur, so time is
		// accumulated per tempo segment, anchored at the last change.
		var absTicks, segTicks uint64
		var segMicros float64
		tempo := initialTempo

		for _, ev := range tr {
			absTicks, err = mus.AddTicks(absTicks, ev.Delta)
			if err != nil {
				return nil, err
			}
			micros := uint64(segMicros + float64(absTicks-segTicks)/float64(ppq)*tempo)

			var (
				ch, key, vel  uint8
				prog, cc, val uint8
				rel           int16
				bend          uint16
				bpm           float64
			)
			msg := ev.Message
			switch {
			case msg.GetMetaTempo(&bpm):
				segMicros += float64(absTicks-segTicks) / float64(ppq) * tempo
				segTicks = absTicks
				tempo = 60_000_000 / bpm
				tl.Events = append(tl.Events, TimedMsg{micros, Msg{Kind: MsgTempo, TempoMicros: tempo}})
			case msg.GetNoteOn(&ch, &key, &vel):
				if vel == 0 {
					// A velocity-0 note-on is a note-off by convention.
					tl.Events = append(tl.Events, TimedMsg{micros, Msg{Kind: MsgNoteOff, Channel: ch, Key: key}})
				} else {
					tl.Events = append(tl.Events, TimedMsg{micros, Msg{Kind: MsgNoteOn, Channel: ch, Key: key, Velocity: vel}})
				}
			case msg.GetNoteOff(&ch, &key, &vel):
				tl.Events = append(tl.Events, TimedMsg{micros, Msg{Kind: MsgNoteOff, Channel: ch, Key: key, Velocity: vel}})
			case msg.GetProgramChange(&ch, &prog):
				tl.Events = append(tl.Events, TimedMsg{micros, Msg{Kind: MsgProgram, Channel: ch, Program: prog}})
			case msg.GetControlChange(&ch, &cc, &val):
				tl.Events = append(tl.Events, TimedMsg{micros, Msg{Kind: MsgControl, Channel: ch, Controller: cc, Value: val}})
			case msg.GetPitchBend(&ch, &rel, &bend):
				tl.Events = append(tl.Events, TimedMsg{micros, Msg{Kind: MsgPitchBend, Channel: ch, Bend: bend}})
			}
			if micros > tl.LengthMicros {
				tl.LengthMicros = micros
			}
		}
	}

	// Merge tracks chronologically. Stable so that simultaneous events
	// keep their decode order, pause/resume included.
	sort.SliceStable(tl.Events, func(i, j int) bool {
		return tl.Events[i].Micros < tl.Events[j].Micros
	})
	return tl, nil
}
