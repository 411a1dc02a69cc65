// Package notation parses Mabinogi-style MML text and writes it as a
// standard MIDI file
package notation

import "github.com/cockroachdb/errors"

// Grammar failures. SyntaxError wraps one of these.
var (
	ErrEmpty          = errors.New("notation is empty")
	ErrNoCommands     = errors.New("no recognizable commands")
	ErrUnterminated   = errors.New("missing ';' terminator")
	ErrTooManyTracks  = errors.New("too many tracks")
	ErrOutOfRange     = errors.New("value out of range")
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingNumber  = errors.New("missing number")
	ErrDanglingTie    = errors.New("tie without a note on both sides")
)

// EventType identifies a score event
type EventType int

const (
	EventNote EventType = iota + 1
	EventRest
)

// Event is a timed note or rest. Velocity 0 notes advance time silently.
type Event struct {
	Type     EventType
	Tick     int
	Duration int
	Note     int
	Velocity int
}

// Track is one comma separated voice of the notation
type Track struct {
	Events  []Event
	EndTick int
}

// TempoChange sets the global tempo from Tick onwards
type TempoChange struct {
	Tick int
	BPM  int
}

// Score is the parsed form of a notation text
type Score struct {
	Resolution int
	Tempos     []TempoChange
	Tracks     []Track
	Commands   int
}

// EndTick returns the tick at which the last track ends
func (s *Score) EndTick() int {
	end := 0
	for _, t := range s.Tracks {
		if t.EndTick > end {
			end = t.EndTick
		}
	}
	return end
}

// ParserConfig holds the defaults and limits of the grammar
type ParserConfig struct {
	Resolution    int
	DefaultTempo  int
	DefaultLength int
	DefaultOctave int
	DefaultVolume int
	MaxTracks     int
}

// DefaultParserConfig returns the Mabinogi defaults: T120 L4 O4 V8, three tracks
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		Resolution:    480,
		DefaultTempo:  120,
		DefaultLength: 4,
		DefaultOctave: 4,
		DefaultVolume: 8,
		MaxTracks:     3,
	}
}

// Command limits
const (
	MinTempo  = 32
	MaxTempo  = 255
	MinLength = 1
	MaxLength = 64
	MinOctave = 1
	MaxOctave = 8
	MaxVolume = 15
	MaxNoteN  = 96
)
