package converter

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// InputInfo describes an input file without converting it
type InputInfo struct {
	Path       string
	Kind       InputKind
	Size       int64
	Lines      int
	Characters int
	Complexity string
	MIDI       *MIDIInfo
}

// String renders the info block printed by the info command
func (i *InputInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File:        %s\n", i.Path)
	fmt.Fprintf(&b, "Kind:        %s\n", i.Kind)
	fmt.Fprintf(&b, "Size:        %d bytes\n", i.Size)
	if i.Kind == KindNotation {
		fmt.Fprintf(&b, "Lines:       %d\n", i.Lines)
		fmt.Fprintf(&b, "Characters:  %d\n", i.Characters)
		fmt.Fprintf(&b, "Complexity:  %s\n", i.Complexity)
	}
	if i.MIDI != nil {
		fmt.Fprintf(&b, "Tracks:      %d\n", i.MIDI.Tracks)
		fmt.Fprintf(&b, "Resolution:  %d ticks/quarter\n", i.MIDI.TicksPerQuarter)
		fmt.Fprintf(&b, "Tempo:       %.1f BPM\n", i.MIDI.Tempo)
		fmt.Fprintf(&b, "Notes:       %d\n", i.MIDI.Notes)
		fmt.Fprintf(&b, "Duration:    %s\n", i.MIDI.Duration)
		for _, ch := range i.MIDI.Channels {
			if prog, ok := i.MIDI.Programs[ch]; ok {
				fmt.Fprintf(&b, "Channel %2d:  %s\n", ch+1, InstrumentName(int(prog)))
			}
		}
	}
	return b.String()
}

func readInput(path string) ([]byte, InputKind, error) {
	kind := DetectInputKind(path)
	if kind == KindUnknown {
		return nil, kind, InputError(errors.Newf("unsupported input extension for %s", path), "detect input kind")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kind, InputError(err, "read input")
	}
	return data, kind, nil
}

// Validate checks that path is a convertible input. Notation is checked by
// the translator without producing any artifact.
func (c *Controller) Validate(path string) error {
	data, kind, err := readInput(path)
	if err != nil {
		return err
	}

	switch kind {
	case KindNotation:
		if !utf8.Valid(data) {
			return NotationError(errors.New("notation is not valid UTF-8 text"))
		}
		if err := c.translator.Validate(string(data)); err != nil {
			return NotationError(err)
		}
	case KindMIDI:
		if _, err := InspectMIDI(data); err != nil {
			return InputError(err, "invalid MIDI file")
		}
	}
	return nil
}

// Info gathers size and content statistics for path
func (c *Controller) Info(path string) (*InputInfo, error) {
	data, kind, err := readInput(path)
	if err != nil {
		return nil, err
	}

	info := &InputInfo{Path: path, Kind: kind, Size: int64(len(data))}
	switch kind {
	case KindNotation:
		text := string(data)
		info.Characters = utf8.RuneCountInString(text)
		info.Lines = bytes.Count(data, []byte("\n"))
		if len(data) > 0 && data[len(data)-1] != '\n' {
			info.Lines++
		}
		info.Complexity = Complexity(info.Characters)
		// Statistics are still useful for text that does not translate
		if midiData, err := c.translator.Translate(text); err == nil {
			info.MIDI, _ = InspectMIDI(midiData)
		}
	case KindMIDI:
		info.MIDI, err = InspectMIDI(data)
		if err != nil {
			return nil, InputError(err, "invalid MIDI file")
		}
	}
	return info, nil
}
