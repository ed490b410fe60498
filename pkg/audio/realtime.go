package audio

import (
	"encoding/binary"

	"github.com/ebitengine/oto/v3"
)

// RealtimeOutput streams a Source to the system audio device.
type RealtimeOutput struct {
	source    Source
	otoCtx    *oto.Context
	otoPlayer *oto.Player
	running   bool
}

// NewRealtimeOutput opens the default audio device and starts pulling
// stereo 16-bit PCM from the source.
func NewRealtimeOutput(source Source) (*RealtimeOutput, error) {
	op := &oto.NewContextOptions{
		SampleRate:   source.SampleRate(),
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	}

	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready

	rt := &RealtimeOutput{
		source:  source,
		otoCtx:  otoCtx,
		running: true,
	}

	rt.otoPlayer = otoCtx.NewPlayer(&audioStream{rt: rt})
	rt.otoPlayer.SetBufferSize(source.SampleRate() * 4 / 10) // 100ms of stereo int16
	rt.otoPlayer.Play()

	return rt, nil
}

// Close stops the audio output.
func (rt *RealtimeOutput) Close() {
	rt.running = false
	if rt.otoPlayer != nil {
		rt.otoPlayer.Close()
	}
}

// audioStream implements io.Reader for oto.
type audioStream struct {
	rt          *RealtimeOutput
	left, right []float32
}

func (s *audioStream) Read(buf []byte) (int, error) {
	frames := len(buf) / 4 // stereo, 2 bytes per sample
	if !s.rt.running {
		for i := range buf[:frames*4] {
			buf[i] = 0
		}
		return frames * 4, nil
	}

	if frames > len(s.left) {
		s.left = make([]float32, frames)
		s.right = make([]float32, frames)
	}
	s.rt.source.Render(s.left[:frames], s.right[:frames])

	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint16(buf[i*4:], uint16(sampleToInt16(s.left[i])))
		binary.LittleEndian.PutUint16(buf[i*4+2:], uint16(sampleToInt16(s.right[i])))
	}
	return frames * 4, nil
}

func sampleToInt16(sample float32) int16 {
	if sample > 1.0 {
		sample = 1.0
	}
	if sample < -1.0 {
		sample = -1.0
	}
	return int16(sample * 32767)
}
