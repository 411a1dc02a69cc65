package converter

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// General MIDI controller numbers for the effect sends
const (
	ControllerReverbSend = 91
	ControllerChorusSend = 93
	PercussionChannel    = 9
	defaultMicrosPerBeat = 500000
)

// MIDIInfo summarizes a standard MIDI file
type MIDIInfo struct {
	Tracks          int
	TicksPerQuarter uint16
	Tempo           float64 // initial tempo in BPM
	Notes           int
	Channels        []uint8
	Programs        map[uint8]uint8 // first program change per channel
	LengthTicks     int64
	Duration        time.Duration
}

type tempoChange struct {
	tick          int64
	microsPerBeat uint32
}

// InspectMIDI parses MIDI data and collects timing and channel information
func InspectMIDI(data []byte) (*MIDIInfo, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse MIDI")
	}

	info := &MIDIInfo{
		Tracks:          len(s.Tracks),
		TicksPerQuarter: 480,
		Tempo:           120.0,
		Programs:        map[uint8]uint8{},
	}

	if mt, ok := s.TimeFormat.(smf.MetricTicks); ok {
		info.TicksPerQuarter = mt.Resolution()
	} else {
		return nil, errors.New("SMPTE time format is not supported")
	}

	var tempos []tempoChange
	channels := map[uint8]bool{}

	for _, track := range s.Tracks {
		var currentTick int64
		for _, ev := range track {
			currentTick += int64(ev.Delta)
			msg := ev.Message

			// Tempo meta message (FF 51 03 tt tt tt)
			if len(msg) >= 6 && msg[0] == 0xFF && msg[1] == 0x51 && msg[2] == 0x03 {
				microsPerBeat := uint32(msg[3])<<16 | uint32(msg[4])<<8 | uint32(msg[5])
				if microsPerBeat > 0 {
					tempos = append(tempos, tempoChange{tick: currentTick, microsPerBeat: microsPerBeat})
				}
			}

			if len(msg) >= 2 && msg[0] >= 0x80 && msg[0] < 0xF0 {
				status := msg[0] & 0xF0
				channel := msg[0] & 0x0F
				channels[channel] = true

				switch {
				case status == 0x90 && len(msg) >= 3 && msg[2] > 0:
					info.Notes++
				case status == 0xC0:
					if _, seen := info.Programs[channel]; !seen {
						info.Programs[channel] = msg[1]
					}
				}
			}
		}
		if currentTick > info.LengthTicks {
			info.LengthTicks = currentTick
		}
	}

	sort.SliceStable(tempos, func(i, j int) bool { return tempos[i].tick < tempos[j].tick })
	if len(tempos) > 0 && tempos[0].tick == 0 {
		info.Tempo = 60000000.0 / float64(tempos[0].microsPerBeat)
	}

	for ch := range channels {
		info.Channels = append(info.Channels, ch)
	}
	sort.Slice(info.Channels, func(i, j int) bool { return info.Channels[i] < info.Channels[j] })

	info.Duration = ticksToDuration(info.LengthTicks, info.TicksPerQuarter, tempos)
	return info, nil
}

// ticksToDuration integrates the tempo map up to the given tick
func ticksToDuration(ticks int64, tpq uint16, tempos []tempoChange) time.Duration {
	if tpq == 0 {
		return 0
	}
	var micros float64
	lastTick := int64(0)
	microsPerBeat := uint32(defaultMicrosPerBeat)

	for _, tc := range tempos {
		if tc.tick >= ticks {
			break
		}
		micros += float64(tc.tick-lastTick) * float64(microsPerBeat) / float64(tpq)
		lastTick = tc.tick
		microsPerBeat = tc.microsPerBeat
	}
	micros += float64(ticks-lastTick) * float64(microsPerBeat) / float64(tpq)

	return time.Duration(micros * float64(time.Microsecond))
}

// ApplyChannelDefaults rewrites MIDI data so that every melodic channel
// without an explicit program change before its first note plays program,
// and disabled effects have their send levels zeroed at the start of the song.
// Explicit program changes in the file win over program.
func ApplyChannelDefaults(data []byte, program uint8, fx Effects) ([]byte, error) {
	if program > 127 {
		return nil, RangeError("instrument", int(program), 0, 127)
	}

	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse MIDI")
	}

	out := smf.New()
	out.TimeFormat = s.TimeFormat

	// defaults go first in the first track so that at tick 0 they play
	// before anything the file itself does
	needs := channelsNeedingProgram(s.Tracks)

	for i, track := range s.Tracks {
		var rewritten smf.Track

		if i == 0 {
			for _, ch := range needs {
				rewritten.Add(0, midi.ProgramChange(ch, program))
			}
		}
		for _, ch := range usedChannels(track) {
			if !fx.Reverb {
				rewritten.Add(0, midi.ControlChange(ch, ControllerReverbSend, 0))
			}
			if !fx.Chorus {
				rewritten.Add(0, midi.ControlChange(ch, ControllerChorusSend, 0))
			}
		}

		var endDelta uint32
		for _, ev := range track {
			msg := ev.Message
			// End of track (FF 2F 00) is re-added by Close
			if len(msg) >= 2 && msg[0] == 0xFF && msg[1] == 0x2F {
				endDelta = ev.Delta
				continue
			}
			rewritten.Add(ev.Delta, msg)
		}
		rewritten.Close(endDelta)

		if err := out.Add(rewritten); err != nil {
			return nil, errors.Wrapf(err, "failed to add track %d", i)
		}
	}

	var buf bytes.Buffer
	if _, err := out.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to write MIDI")
	}
	return buf.Bytes(), nil
}

// usedChannels lists the channels addressed by channel messages in track
func usedChannels(track smf.Track) []uint8 {
	seen := map[uint8]bool{}
	var channels []uint8
	for _, ev := range track {
		msg := ev.Message
		if len(msg) >= 2 && msg[0] >= 0x80 && msg[0] < 0xF0 {
			ch := msg[0] & 0x0F
			if !seen[ch] {
				seen[ch] = true
				channels = append(channels, ch)
			}
		}
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// eventPos orders events the way tracks are merged for playback: by tick,
// then by track index, then by position within the track
type eventPos struct {
	tick  int64
	track int
	index int
}

func (a eventPos) before(b eventPos) bool {
	if a.tick != b.tick {
		return a.tick < b.tick
	}
	if a.track != b.track {
		return a.track < b.track
	}
	return a.index < b.index
}

// channelsNeedingProgram lists melodic channels whose first note sounds
// before any program change on that channel, looking across all tracks
func channelsNeedingProgram(tracks []smf.Track) []uint8 {
	firstProgram := map[uint8]eventPos{}
	firstNote := map[uint8]eventPos{}

	for ti, track := range tracks {
		var tick int64
		for i, ev := range track {
			tick += int64(ev.Delta)
			msg := ev.Message
			if len(msg) < 2 || msg[0] < 0x80 || msg[0] >= 0xF0 {
				continue
			}
			pos := eventPos{tick: tick, track: ti, index: i}
			status := msg[0] & 0xF0
			ch := msg[0] & 0x0F
			switch {
			case status == 0xC0:
				if p, ok := firstProgram[ch]; !ok || pos.before(p) {
					firstProgram[ch] = pos
				}
			case status == 0x90 && len(msg) >= 3 && msg[2] > 0:
				if p, ok := firstNote[ch]; !ok || pos.before(p) {
					firstNote[ch] = pos
				}
			}
		}
	}

	var channels []uint8
	for ch, note := range firstNote {
		if ch == PercussionChannel {
			continue
		}
		if p, ok := firstProgram[ch]; ok && p.before(note) {
			continue
		}
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// String renders a short human readable summary
func (i *MIDIInfo) String() string {
	return fmt.Sprintf("%d tracks, %d notes, %.0f BPM, %s", i.Tracks, i.Notes, i.Tempo, i.Duration.Round(time.Millisecond))
}
