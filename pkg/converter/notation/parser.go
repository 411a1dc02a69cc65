package notation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

// SyntaxError locates a grammar failure in the source text
type SyntaxError struct {
	Track  int // 1-based
	Offset int // rune offset in the original text
	Err    error
	Detail string
}

func (e *SyntaxError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("track %d, offset %d: %v", e.Track, e.Offset, e.Err)
	}
	return fmt.Sprintf("track %d, offset %d: %v: %s", e.Track, e.Offset, e.Err, e.Detail)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

var semitones = map[rune]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

type voice struct {
	octave   int
	length   int // ticks
	velocity int
	tick     int
	last     int // index of the last note event, -1 after a rest
	tie      bool
	tieAt    int
}

type parser struct {
	cfg   ParserConfig
	src   []rune
	pos   int
	base  int // offset of src[0] in the original text
	score *Score
	track int
	v     *voice
}

// Parse parses notation text with the default configuration
func Parse(text string) (*Score, error) {
	return ParseWith(text, DefaultParserConfig())
}

// ParseWith parses notation text. Commands are case-insensitive,
// whitespace is ignored and everything after ';' is discarded.
func ParseWith(text string, cfg ParserConfig) (*Score, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}

	src := []rune(text)
	start := 0
	for start < len(src) && unicode.IsSpace(src[start]) {
		start++
	}
	if len(src)-start >= 4 && strings.EqualFold(string(src[start:start+4]), "MML@") {
		start += 4
	}

	end := -1
	for i := start; i < len(src); i++ {
		if src[i] == ';' {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, ErrUnterminated
	}

	p := &parser{
		cfg:   cfg,
		src:   src[start:end],
		base:  start,
		score: &Score{Resolution: cfg.Resolution},
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	if p.score.Commands == 0 {
		return nil, ErrNoCommands
	}
	return p.score, nil
}

func (p *parser) newVoice() *voice {
	return &voice{
		octave:   p.cfg.DefaultOctave,
		length:   p.lengthTicks(p.cfg.DefaultLength, 0),
		velocity: velocity(p.cfg.DefaultVolume),
		last:     -1,
	}
}

func (p *parser) parse() error {
	p.score.Tracks = append(p.score.Tracks, Track{})
	p.v = p.newVoice()

	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return p.endTrack()
		}

		r := unicode.ToUpper(p.src[p.pos])
		at := p.pos
		p.pos++

		if r == ',' {
			if err := p.endTrack(); err != nil {
				return err
			}
			if len(p.score.Tracks) == p.cfg.MaxTracks {
				return p.fail(at, ErrTooManyTracks, fmt.Sprintf("at most %d", p.cfg.MaxTracks))
			}
			p.score.Tracks = append(p.score.Tracks, Track{})
			p.track++
			p.v = p.newVoice()
			continue
		}

		p.score.Commands++
		if err := p.command(r, at); err != nil {
			return err
		}
	}
}

func (p *parser) command(r rune, at int) error {
	switch {
	case r >= 'A' && r <= 'G':
		return p.note(semitones[r], at)
	case r == 'R':
		if p.v.tie {
			return p.fail(p.v.tieAt, ErrDanglingTie, "followed by a rest")
		}
		d, err := p.duration(p.v.length)
		if err != nil {
			return err
		}
		p.appendEvent(Event{Type: EventRest, Tick: p.v.tick, Duration: d})
		p.v.tick += d
		p.v.last = -1
	case r == 'N':
		n, err := p.requireNumber(at, 0, MaxNoteN, "note number")
		if err != nil {
			return err
		}
		return p.emitNote(n+12, p.v.length, at)
	case r == 'T':
		bpm, err := p.requireNumber(at, MinTempo, MaxTempo, "tempo")
		if err != nil {
			return err
		}
		p.score.Tempos = append(p.score.Tempos, TempoChange{Tick: p.v.tick, BPM: bpm})
	case r == 'L':
		n, err := p.requireNumber(at, MinLength, MaxLength, "length")
		if err != nil {
			return err
		}
		p.v.length = p.lengthTicks(n, p.dots())
	case r == 'O':
		o, err := p.requireNumber(at, MinOctave, MaxOctave, "octave")
		if err != nil {
			return err
		}
		p.v.octave = o
	case r == '>' || r == '<':
		o := p.v.octave + 1
		if r == '<' {
			o = p.v.octave - 1
		}
		if o < MinOctave || o > MaxOctave {
			return p.fail(at, ErrOutOfRange, fmt.Sprintf("octave %d", o))
		}
		p.v.octave = o
	case r == 'V':
		vol, err := p.requireNumber(at, 0, MaxVolume, "volume")
		if err != nil {
			return err
		}
		p.v.velocity = velocity(vol)
	case r == '&':
		if p.v.last < 0 {
			return p.fail(at, ErrDanglingTie, "no preceding note")
		}
		p.v.tie = true
		p.v.tieAt = at
	default:
		return p.fail(at, ErrUnknownCommand, fmt.Sprintf("%q", p.src[at]))
	}
	return nil
}

func (p *parser) note(semitone int, at int) error {
	key := (p.v.octave+1)*12 + semitone
accidentals:
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '+', '#':
			key++
		case '-':
			key--
		default:
			break accidentals
		}
		p.pos++
	}
	d, err := p.duration(p.v.length)
	if err != nil {
		return err
	}
	return p.emitNote(key, d, at)
}

func (p *parser) emitNote(key, d int, at int) error {
	if key < 0 || key > 127 {
		return p.fail(at, ErrOutOfRange, fmt.Sprintf("note %d", key))
	}

	t := &p.score.Tracks[p.track]
	if p.v.tie {
		p.v.tie = false
		if prev := &t.Events[p.v.last]; prev.Note == key {
			prev.Duration += d
			p.v.tick += d
			return nil
		}
	}

	p.appendEvent(Event{Type: EventNote, Tick: p.v.tick, Duration: d, Note: key, Velocity: p.v.velocity})
	p.v.last = len(t.Events) - 1
	p.v.tick += d
	return nil
}

func (p *parser) appendEvent(ev Event) {
	t := &p.score.Tracks[p.track]
	t.Events = append(t.Events, ev)
}

func (p *parser) endTrack() error {
	if p.v.tie {
		return p.fail(p.v.tieAt, ErrDanglingTie, "at end of track")
	}
	p.score.Tracks[p.track].EndTick = p.v.tick
	return nil
}

// duration reads an optional length and dots after a note or rest
func (p *parser) duration(def int) (int, error) {
	at := p.pos
	n, ok := p.number()
	if !ok {
		if dots := p.dots(); dots > 0 {
			return dotted(def, dots), nil
		}
		return def, nil
	}
	if n < MinLength || n > MaxLength {
		return 0, p.fail(at, ErrOutOfRange, fmt.Sprintf("length %d", n))
	}
	return p.lengthTicks(n, p.dots()), nil
}

func (p *parser) requireNumber(at, lo, hi int, what string) (int, error) {
	n, ok := p.number()
	if !ok {
		return 0, p.fail(at, ErrMissingNumber, what)
	}
	if n < lo || n > hi {
		return 0, p.fail(at, ErrOutOfRange, fmt.Sprintf("%s %d not in [%d, %d]", what, n, lo, hi))
	}
	return n, nil
}

func (p *parser) number() (int, bool) {
	start := p.pos
	n := 0
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		if n < 1<<20 {
			n = n*10 + int(p.src[p.pos]-'0')
		}
		p.pos++
	}
	return n, p.pos > start
}

func (p *parser) dots() int {
	n := 0
	for p.pos < len(p.src) && p.src[p.pos] == '.' {
		n++
		p.pos++
	}
	return n
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *parser) lengthTicks(n, dots int) int {
	return dotted(p.cfg.Resolution*4/n, dots)
}

func (p *parser) fail(at int, err error, detail string) error {
	return &SyntaxError{Track: p.track + 1, Offset: p.base + at, Err: err, Detail: detail}
}

func dotted(ticks, dots int) int {
	total, add := ticks, ticks/2
	for i := 0; i < dots; i++ {
		total += add
		add /= 2
	}
	return total
}

func velocity(volume int) int {
	v := volume * 8
	if v > 127 {
		v = 127
	}
	return v
}

// IsSyntaxError reports whether err came from the grammar
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}
