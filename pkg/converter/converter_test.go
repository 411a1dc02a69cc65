package converter

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

func TestDetectInputKind(t *testing.T) {
	tests := []struct {
		filename string
		expected InputKind
	}{
		{"song.mml", KindNotation},
		{"SONG.MML", KindNotation},
		{"test.mid", KindMIDI},
		{"test.midi", KindMIDI},
		{"dir.mml/test.MID", KindMIDI},
		{"test.txt", KindUnknown},
		{"test.mp3", KindUnknown},
		{"test", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			result := DetectInputKind(tt.filename)
			if result != tt.expected {
				t.Errorf("DetectInputKind(%q) = %v, want %v", tt.filename, result, tt.expected)
			}
		})
	}
}

func TestSniffInputKind(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected InputKind
	}{
		{"MIDI file", []byte("MThd\x00\x00\x00\x06"), KindMIDI},
		{"notation", []byte("MML@T120CDE;"), KindNotation},
		{"binary", []byte{0xFF, 0xFE, 0x00, 0x81, 0xC0}, KindUnknown},
		{"short data", []byte{0x00, 0x01}, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SniffInputKind(tt.data)
			if result != tt.expected {
				t.Errorf("SniffInputKind() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestComplexity(t *testing.T) {
	tests := []struct {
		chars    int
		expected string
	}{
		{0, "Low"},
		{500, "Low"},
		{501, "Medium"},
		{1000, "Medium"},
		{1001, "High"},
	}

	for _, tt := range tests {
		if got := Complexity(tt.chars); got != tt.expected {
			t.Errorf("Complexity(%d) = %q, want %q", tt.chars, got, tt.expected)
		}
	}
}

func TestSupportedExtensions(t *testing.T) {
	for _, ext := range SupportedExtensions() {
		if DetectInputKind("file"+ext) == KindUnknown {
			t.Errorf("extension %s is listed but not detected", ext)
		}
	}
}

func TestPCMBufferDuration(t *testing.T) {
	buf := &PCMBuffer{SampleRate: 44100, Channels: 2, Samples: make([]int16, 44100*2*3)}
	if buf.Frames() != 44100*3 {
		t.Errorf("Frames() = %d, want %d", buf.Frames(), 44100*3)
	}
	if buf.Duration() != 3*time.Second {
		t.Errorf("Duration() = %v, want 3s", buf.Duration())
	}

	var empty *PCMBuffer
	if empty.Duration() != 0 {
		t.Error("nil buffer should have zero duration")
	}
}

func TestInstruments(t *testing.T) {
	list := Instruments()
	if len(list) != 128 {
		t.Fatalf("Instruments() returned %d programs, want 128", len(list))
	}
	if list[0].Name != "Acoustic Grand Piano" {
		t.Errorf("program 0 = %q", list[0].Name)
	}
	if InstrumentName(54) != "Synth Choir" {
		t.Errorf("program 54 = %q", InstrumentName(54))
	}
	if InstrumentName(127) != "Gunshot" {
		t.Errorf("program 127 = %q", InstrumentName(127))
	}
	if InstrumentName(200) != "Program 200" {
		t.Errorf("out of range program = %q", InstrumentName(200))
	}
}

func TestClassify(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"range beats input", RangeError("instrument", 128, 0, 127), ErrRange},
		{"input", InputError(base, "read input"), ErrInput},
		{"sequence", SequenceError("convert: busy"), ErrSequence},
		{"notation in stage", &StageError{Stage: StageTranslate, Cause: NotationError(base)}, ErrNotation},
		{"synthesis", SynthesisError(base, "render"), ErrSynthesis},
		{"encoding", EncodingError(base, "encode"), ErrEncoding},
		{"artifact", ArtifactError(base, "write temp PCM"), ErrArtifactIO},
		{"unclassified", base, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
