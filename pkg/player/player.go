// Package player advances a decoded song timeline against a clock and
// feeds ready-to-sound events to a synthesizer sink. Pause is modeled as
// a frozen cursor (position index plus consumed song time), not as a
// suspended goroutine, so resume continues from the saved position
// instead of wall-clock "now".
package player

import (
	"sync"
	"time"

	"github.com/ivanfourie/wad-music-test/pkg/midi"
)

// State is the playback state machine.
type State int

const (
	Idle State = iota
	Playing
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Sink consumes ready-to-sound events. Events for one song arrive
// strictly in decode order, pause/resume included.
type Sink interface {
	NoteOn(channel, key, velocity uint8)
	NoteOff(channel, key uint8)
	ProgramChange(channel, program uint8)
	ControlChange(channel, controller, value uint8)
	PitchBend(channel uint8, bend uint16)
	AllNotesOff()
}

// Clock abstracts monotonic time so tests can drive playback without
// real sleeps.
type Clock interface {
	Now() time.Duration
	After(d time.Duration) <-chan time.Time
}

type realClock struct {
	base time.Time
}

func NewRealClock() Clock          { return &realClock{base: time.Now()} }
func (c *realClock) Now() time.Duration { return time.Since(c.base) }
func (c *realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type cmd int

const (
	cmdPause cmd = iota
	cmdResume
	cmdStop
)

// Driver owns the event cursor of the currently loaded song. The decoded
// timeline is immutable; the driver only advances over it.
type Driver struct {
	sink  Sink
	clock Clock

	mu       sync.Mutex
	state    State
	timeline *midi.Timeline
	pos      int
	consumed uint64 // song microseconds already delivered

	ctrl chan cmd
	done chan struct{}
}

// New creates an idle driver delivering to sink.
func New(sink Sink, clock Clock) *Driver {
	if clock == nil {
		clock = NewRealClock()
	}
	return &Driver{sink: sink, clock: clock, state: Idle}
}

// Load stops any current playback and starts the given timeline from
// tick zero. Each load owns a fresh cursor; a previous song's position is
// never resumed.
func (d *Driver) Load(tl *midi.Timeline) {
	d.Stop()

	d.mu.Lock()
	d.timeline = tl
	d.pos = 0
	d.consumed = 0
	d.state = Playing
	d.ctrl = make(chan cmd)
	d.done = make(chan struct{})
	ctrl, done := d.ctrl, d.done
	d.mu.Unlock()

	go d.run(tl, ctrl, done)
}

// Pause freezes elapsed-time accounting without discarding the cursor.
func (d *Driver) Pause() {
	d.mu.Lock()
	if d.state != Playing {
		d.mu.Unlock()
		return
	}
	d.state = Paused
	ctrl, done := d.ctrl, d.done
	d.mu.Unlock()
	send(ctrl, done, cmdPause)
}

// Resume continues from the frozen position.
func (d *Driver) Resume() {
	d.mu.Lock()
	if d.state != Paused {
		d.mu.Unlock()
		return
	}
	d.state = Playing
	ctrl, done := d.ctrl, d.done
	d.mu.Unlock()
	send(ctrl, done, cmdResume)
}

// Toggle pauses when playing and resumes when paused.
func (d *Driver) Toggle() {
	switch d.State() {
	case Playing:
		d.Pause()
	case Paused:
		d.Resume()
	}
}

// Stop discards the current cursor immediately, interrupting any
// in-flight wait, and blocks until the playback goroutine has exited.
func (d *Driver) Stop() {
	d.mu.Lock()
	if d.state != Playing && d.state != Paused {
		d.mu.Unlock()
		return
	}
	d.state = Stopped
	ctrl, done := d.ctrl, d.done
	d.mu.Unlock()

	send(ctrl, done, cmdStop)
	<-done
}

// send delivers a command unless the playback goroutine already exited.
func send(ctrl chan cmd, done chan struct{}, c cmd) {
	select {
	case ctrl <- c:
	case <-done:
	}
}

// State returns the current playback state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Elapsed returns consumed song time, excluding paused spans.
func (d *Driver) Elapsed() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Duration(d.consumed) * time.Microsecond
}

// Done returns a channel closed when the current song's playback
// goroutine exits, whether it finished or was stopped. Nil when nothing
// was ever loaded.
func (d *Driver) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func (d *Driver) run(tl *midi.Timeline, ctrl chan cmd, done chan struct{}) {
	defer close(done)
	defer d.sink.AllNotesOff()

	for {
		// Observe control promptly even when events are due back to back.
		select {
		case c := <-ctrl:
			if !d.handle(c, ctrl) {
				return
			}
		default:
		}

		d.mu.Lock()
		pos, consumed := d.pos, d.consumed
		d.mu.Unlock()

		if pos >= len(tl.Events) {
			d.finish()
			return
		}
		ev := tl.Events[pos]

		// Wait out the gap to the next event. The wait is a select, so a
		// control command interrupts it instead of waiting on a stale timer.
		if ev.Micros > consumed {
			wait := time.Duration(ev.Micros-consumed) * time.Microsecond
			start := d.clock.Now()
			select {
			case <-d.clock.After(wait):
				d.setConsumed(ev.Micros)
			case c := <-ctrl:
				// Partial progress still counts as consumed song time, so
				// resume re-waits only the remainder.
				d.addConsumed(d.clock.Now() - start)
				if !d.handle(c, ctrl) {
					return
				}
				continue
			}
		}

		Dispatch(d.sink, ev.Msg)
		d.mu.Lock()
		d.pos++
		d.consumed = ev.Micros
		d.mu.Unlock()
	}
}

// handle processes a control command; false means stop.
func (d *Driver) handle(c cmd, ctrl chan cmd) bool {
	for {
		switch c {
		case cmdStop:
			return false
		case cmdResume:
			return true
		case cmdPause:
			// Frozen: nothing advances until the next command.
			c = <-ctrl
		}
	}
}

func (d *Driver) finish() {
	d.mu.Lock()
	if d.state == Playing || d.state == Paused {
		d.state = Stopped
	}
	d.mu.Unlock()
}

func (d *Driver) setConsumed(micros uint64) {
	d.mu.Lock()
	d.consumed = micros
	d.mu.Unlock()
}

func (d *Driver) addConsumed(dt time.Duration) {
	if dt < 0 {
		return
	}
	d.mu.Lock()
	d.consumed += uint64(dt / time.Microsecond)
	d.mu.Unlock()
}

// Dispatch delivers one timeline message to a sink. Tempo messages are
// skipped: tempo is already baked into the timeline's microsecond times.
func Dispatch(s Sink, m midi.Msg) {
	switch m.Kind {
	case midi.MsgNoteOn:
		s.NoteOn(m.Channel, m.Key, m.Velocity)
	case midi.MsgNoteOff:
		s.NoteOff(m.Channel, m.Key)
	case midi.MsgProgram:
		s.ProgramChange(m.Channel, m.Program)
	case midi.MsgControl:
		s.ControlChange(m.Channel, m.Controller, m.Value)
	case midi.MsgPitchBend:
		s.PitchBend(m.Channel, m.Bend)
	}
}
