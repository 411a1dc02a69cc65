// Package converter provides the notation/MIDI to MP3 conversion pipeline
package converter

import (
	"io"
	"time"
)

// InputKind is the kind of source a conversion starts from
type InputKind string

const (
	KindNotation InputKind = "notation"
	KindMIDI     InputKind = "midi"
	KindUnknown  InputKind = "unknown"
)

// ArtifactKind identifies an intermediate file produced during a conversion
type ArtifactKind string

const (
	ArtifactMIDI ArtifactKind = "midi"
	ArtifactPCM  ArtifactKind = "pcm"
)

// Extension returns the file suffix used for artifacts of this kind
func (k ArtifactKind) Extension() string {
	switch k {
	case ArtifactMIDI:
		return ".mid"
	case ArtifactPCM:
		return ".wav"
	default:
		return ".tmp"
	}
}

// AudioFormat describes the fixed PCM and MP3 parameters of the pipeline
type AudioFormat struct {
	SampleRate   int
	BitDepth     int
	Channels     int
	BitrateKbps  int
	Quality      int // encoder quality, 0 is best
	BufferFrames int // processing block size in sample frames
}

// FrameBytes returns the size of one interleaved sample frame
func (f AudioFormat) FrameBytes() int {
	return f.Channels * f.BitDepth / 8
}

// StandardFormat is the only format the pipeline produces
var StandardFormat = AudioFormat{
	SampleRate:   44100,
	BitDepth:     16,
	Channels:     2,
	BitrateKbps:  192,
	Quality:      0,
	BufferFrames: 4096,
}

// Effects toggles the synthesizer's effect units
type Effects struct {
	Reverb bool
	Chorus bool
}

// PCMBuffer holds interleaved signed 16-bit samples
type PCMBuffer struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames returns the number of whole sample frames in the buffer
func (b *PCMBuffer) Frames() int {
	if b == nil || b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playable length of the buffer
func (b *PCMBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate == 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// NotationTranslator turns notation text into a standard MIDI byte stream
type NotationTranslator interface {
	Translate(text string) ([]byte, error)
	Validate(text string) error
}

// Synthesizer renders MIDI through a soundfont into PCM
type Synthesizer interface {
	LoadSoundFont(path string) error
	SetInstrument(program int) error
	SetEffects(effects Effects)
	Render(midi []byte) (*PCMBuffer, error)
	Close() error
}

// Encoder compresses raw little-endian interleaved PCM (StandardFormat) into MP3
type Encoder interface {
	Encode(pcm io.Reader, mp3 io.Writer) error
}

// Request is the immutable description of one conversion
type Request struct {
	InputPath  string
	Kind       InputKind
	SoundFont  string
	OutputPath string
	Instrument int
	Effects    Effects
}

// Report summarizes a finished conversion
type Report struct {
	Request     Request
	OutputBytes int64
	Audio       time.Duration
	Elapsed     time.Duration
	Artifacts   []string
	// CleanupErr is set when removing an intermediate file failed. It never
	// changes the outcome of the conversion itself.
	CleanupErr error
}
