package notation

import (
	"bytes"
	"sort"

	"github.com/cockroachdb/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/james-see/mml2mp3/pkg/converter"
)

// Translator converts notation text to standard MIDI. It implements
// converter.NotationTranslator.
type Translator struct {
	cfg ParserConfig
}

// NewTranslator creates a translator using the default grammar configuration
func NewTranslator() *Translator {
	return &Translator{cfg: DefaultParserConfig()}
}

// Validate checks text against the grammar without producing MIDI
func (t *Translator) Validate(text string) error {
	if _, err := ParseWith(text, t.cfg); err != nil {
		return converter.NotationError(err)
	}
	return nil
}

// Translate parses text and writes it as a format 1 MIDI file: a conductor
// track with tempo and meter followed by one track per voice on channels 0..2
func (t *Translator) Translate(text string) ([]byte, error) {
	score, err := ParseWith(text, t.cfg)
	if err != nil {
		return nil, converter.NotationError(err)
	}
	data, err := t.WriteMIDI(score)
	if err != nil {
		return nil, converter.NotationError(errors.Wrap(err, "failed to write MIDI"))
	}
	return data, nil
}

type timedMessage struct {
	tick  int
	order int // note-offs sort before note-ons on the same tick
	msg   []byte
}

// WriteMIDI serializes a parsed score
func (t *Translator) WriteMIDI(score *Score) ([]byte, error) {
	if score == nil {
		return nil, errors.New("nil score")
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(score.Resolution)

	if err := s.Add(t.conductor(score)); err != nil {
		return nil, errors.Wrap(err, "failed to add conductor track")
	}

	for i, voice := range score.Tracks {
		var msgs []timedMessage
		ch := uint8(i)
		for _, ev := range voice.Events {
			if ev.Type != EventNote || ev.Velocity == 0 {
				continue
			}
			key := uint8(ev.Note)
			msgs = append(msgs,
				timedMessage{tick: ev.Tick, order: 1, msg: midi.NoteOn(ch, key, uint8(ev.Velocity))},
				timedMessage{tick: ev.Tick + ev.Duration, order: 0, msg: midi.NoteOff(ch, key)},
			)
		}
		sort.SliceStable(msgs, func(a, b int) bool {
			if msgs[a].tick != msgs[b].tick {
				return msgs[a].tick < msgs[b].tick
			}
			return msgs[a].order < msgs[b].order
		})

		var track smf.Track
		last := 0
		for _, m := range msgs {
			track.Add(uint32(m.tick-last), m.msg)
			last = m.tick
		}
		end := voice.EndTick
		if end < last {
			end = last
		}
		track.Close(uint32(end - last))

		if err := s.Add(track); err != nil {
			return nil, errors.Wrapf(err, "failed to add track %d", i+1)
		}
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to encode MIDI")
	}
	return buf.Bytes(), nil
}

// conductor builds the tempo map track
func (t *Translator) conductor(score *Score) smf.Track {
	tempos := append([]TempoChange(nil), score.Tempos...)
	sort.SliceStable(tempos, func(a, b int) bool { return tempos[a].Tick < tempos[b].Tick })
	if len(tempos) == 0 || tempos[0].Tick > 0 {
		tempos = append([]TempoChange{{Tick: 0, BPM: t.cfg.DefaultTempo}}, tempos...)
	}

	var track smf.Track
	// 4/4 meter (FF 58 04 nn dd cc bb)
	track.Add(0, []byte{0xFF, 0x58, 0x04, 0x04, 0x02, 0x18, 0x08})

	last := 0
	for _, tc := range tempos {
		track.Add(uint32(tc.Tick-last), tempoMessage(tc.BPM))
		last = tc.Tick
	}

	end := score.EndTick()
	if end < last {
		end = last
	}
	track.Close(uint32(end - last))
	return track
}

// tempoMessage encodes a set-tempo meta event (FF 51 03 tt tt tt)
func tempoMessage(bpm int) []byte {
	micros := uint32(60000000 / bpm)
	return []byte{0xFF, 0x51, 0x03, byte(micros >> 16), byte(micros >> 8), byte(micros)}
}

var _ converter.NotationTranslator = (*Translator)(nil)
