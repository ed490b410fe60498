// Package audio turns timeline events into sound: a SoundFont synthesizer
// implementing the player sink, a realtime output stream, and an offline
// WAV exporter.
package audio

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/ivanfourie/wad-music-test/pkg/player"
)

// Source is anything that can consume playback events and render PCM.
type Source interface {
	player.Sink
	Render(left, right []float32)
	SampleRate() int
}

// Synth is a General MIDI SoundFont synthesizer. The mutex lets the
// playback driver inject events while the audio thread pulls samples.
type Synth struct {
	mu         sync.Mutex
	inner      *meltysynth.Synthesizer
	sampleRate int
}

// NewSynth loads a .sf2 SoundFont and prepares a synthesizer at the
// given output sample rate.
func NewSynth(soundFontPath string, sampleRate int) (*Synth, error) {
	f, err := os.Open(soundFontPath)
	if err != nil {
		return nil, fmt.Errorf("audio: opening soundfont: %w", err)
	}
	defer f.Close()

	sf, err := meltysynth.NewSoundFont(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("audio: parsing soundfont: %w", err)
	}
	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	inner, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, fmt.Errorf("audio: creating synthesizer: %w", err)
	}
	return &Synth{inner: inner, sampleRate: sampleRate}, nil
}

func (s *Synth) SampleRate() int { return s.sampleRate }

// Render fills stereo float32 buffers with the next samples.
func (s *Synth) Render(left, right []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Render(left, right)
}

// Reset silences everything and returns all controllers to defaults,
// used between songs.
func (s *Synth) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Reset()
}

func (s *Synth) NoteOn(channel, key, velocity uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.NoteOn(int32(channel), int32(key), int32(velocity))
}

func (s *Synth) NoteOff(channel, key uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.NoteOff(int32(channel), int32(key))
}

func (s *Synth) ProgramChange(channel, program uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.ProcessMidiMessage(int32(channel), 0xC0, int32(program), 0)
}

func (s *Synth) ControlChange(channel, controller, value uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.ProcessMidiMessage(int32(channel), 0xB0, int32(controller), int32(value))
}

func (s *Synth) PitchBend(channel uint8, bend uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.ProcessMidiMessage(int32(channel), 0xE0, int32(bend&0x7F), int32(bend>>7))
}

func (s *Synth) AllNotesOff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.NoteOffAll(false)
}
