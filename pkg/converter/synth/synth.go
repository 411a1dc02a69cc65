// Package synth renders MIDI through a SoundFont with meltysynth
package synth

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/james-see/mml2mp3/pkg/converter"
)

// Settings configures the synthesis engine
type Settings struct {
	SampleRate int
	BlockSize  int
	Polyphony  int
}

// DefaultSettings matches converter.StandardFormat
func DefaultSettings() Settings {
	return Settings{
		SampleRate: converter.StandardFormat.SampleRate,
		BlockSize:  64,
		Polyphony:  256,
	}
}

// Synth implements converter.Synthesizer. The sample bank is parsed at the
// first Render after a soundfont is loaded and kept until Close.
type Synth struct {
	mu       sync.Mutex
	settings Settings
	logger   log.Interface

	path      string
	soundFont *meltysynth.SoundFont
	program   int
	effects   converter.Effects
}

// New creates a synthesizer with default settings
func New(logger log.Interface) *Synth {
	return NewWithSettings(DefaultSettings(), logger)
}

// NewWithSettings creates a synthesizer with custom engine settings
func NewWithSettings(settings Settings, logger log.Interface) *Synth {
	if logger == nil {
		logger = log.Log
	}
	return &Synth{
		settings: settings,
		logger:   logger,
		effects:  converter.Effects{Reverb: true, Chorus: true},
	}
}

// LoadSoundFont checks the file signature and remembers path. Sample data is
// not read until the first Render.
func (s *Synth) LoadSoundFont(path string) error {
	if err := converter.CheckSoundFont(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if path != s.path {
		s.soundFont = nil
	}
	s.path = path
	return nil
}

// SetInstrument sets the default program for channels without a program change
func (s *Synth) SetInstrument(program int) error {
	if program < 0 || program > 127 {
		return converter.RangeError("instrument", program, 0, 127)
	}
	s.mu.Lock()
	s.program = program
	s.mu.Unlock()
	return nil
}

// SetEffects toggles reverb and chorus for subsequent renders
func (s *Synth) SetEffects(fx converter.Effects) {
	s.mu.Lock()
	s.effects = fx
	s.mu.Unlock()
}

// Close drops the parsed sample bank
func (s *Synth) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.soundFont != nil {
		s.logger.WithField("soundfont", s.path).Debug("Released soundfont")
	}
	s.soundFont = nil
	return nil
}

// bank returns the parsed soundfont, parsing it on first use
func (s *Synth) bank() (*meltysynth.SoundFont, error) {
	if s.soundFont != nil {
		return s.soundFont, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read soundfont")
	}
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse soundfont")
	}
	s.logger.WithFields(log.Fields{
		"soundfont": s.path,
		"bytes":     len(data),
	}).Debug("Parsed soundfont")
	s.soundFont = sf
	return sf, nil
}

// Render plays midi from start to end and returns interleaved stereo PCM.
// The output is exactly as long as the MIDI file; identical inputs and
// settings render identical samples.
func (s *Synth) Render(midi []byte) (buf *converter.PCMBuffer, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil, converter.SynthesisError(errors.New("no soundfont loaded"), "render")
	}

	// meltysynth panics on some malformed banks and files
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = converter.SynthesisError(errors.Newf("%v", r), "synthesis engine panic")
		}
	}()

	sf, err := s.bank()
	if err != nil {
		return nil, converter.SynthesisError(err, "load soundfont")
	}

	prepared, err := converter.ApplyChannelDefaults(midi, uint8(s.program), s.effects)
	if err != nil {
		return nil, converter.SynthesisError(err, "prepare MIDI")
	}
	mf, err := meltysynth.NewMidiFile(bytes.NewReader(prepared))
	if err != nil {
		return nil, converter.SynthesisError(err, "parse MIDI")
	}

	settings := meltysynth.NewSynthesizerSettings(int32(s.settings.SampleRate))
	settings.BlockSize = int32(s.settings.BlockSize)
	settings.MaximumPolyphony = int32(s.settings.Polyphony)
	settings.EnableReverbAndChorus = s.effects.Reverb || s.effects.Chorus

	engine, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, converter.SynthesisError(err, "create synthesizer")
	}
	seq := meltysynth.NewMidiFileSequencer(engine)
	seq.Play(mf, false)

	length := mf.GetLength()
	frames := int(float64(s.settings.SampleRate) * length.Seconds())
	s.logger.WithFields(log.Fields{
		"program": s.program,
		"length":  length,
		"frames":  frames,
	}).Debug("Rendering MIDI")

	buf = &converter.PCMBuffer{
		SampleRate: s.settings.SampleRate,
		Channels:   2,
		Samples:    make([]int16, 0, frames*2),
	}

	block := converter.StandardFormat.BufferFrames
	left := make([]float32, block)
	right := make([]float32, block)
	for done := 0; done < frames; {
		n := block
		if frames-done < n {
			n = frames - done
		}
		seq.Render(left[:n], right[:n])
		for i := 0; i < n; i++ {
			buf.Samples = append(buf.Samples, toInt16(left[i]), toInt16(right[i]))
		}
		done += n
	}

	return buf, nil
}

// toInt16 converts a float sample in [-1, 1] to 16-bit PCM, clipping overs
func toInt16(v float32) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32767
	default:
		return int16(v * 32767)
	}
}

// String describes the synthesizer configuration
func (s *Synth) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("meltysynth %d Hz, polyphony %d, program %d (%s)",
		s.settings.SampleRate, s.settings.Polyphony, s.program, converter.InstrumentName(s.program))
}

var _ converter.Synthesizer = (*Synth)(nil)
