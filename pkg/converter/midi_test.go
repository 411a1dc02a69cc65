package converter

import (
	"bytes"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

type testEvent struct {
	delta uint32
	msg   []byte
}

// buildMIDI writes a format 1 file at 480 ticks per quarter
func buildMIDI(t *testing.T, tracks ...[]testEvent) []byte {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(480)
	for _, events := range tracks {
		var tr smf.Track
		for _, ev := range events {
			tr.Add(ev.delta, ev.msg)
		}
		tr.Close(0)
		require.NoError(t, s.Add(tr))
	}
	var buf bytes.Buffer
	_, err := s.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

// tempo60 sets one beat per second
var tempo60 = []byte{0xFF, 0x51, 0x03, 0x0F, 0x42, 0x40}

func sampleMIDI(t *testing.T) []byte {
	return buildMIDI(t,
		[]testEvent{{0, tempo60}},
		[]testEvent{
			{0, midi.NoteOn(0, 60, 100)},
			{480, midi.NoteOff(0, 60)},
			{0, midi.ProgramChange(1, 40)},
			{0, midi.NoteOn(1, 64, 90)},
			{0, midi.NoteOn(9, 36, 110)},
			{960, midi.NoteOff(1, 64)},
			{0, midi.NoteOff(9, 36)},
		},
	)
}

func TestInspectMIDI(t *testing.T) {
	info, err := InspectMIDI(sampleMIDI(t))
	require.NoError(t, err)

	assert.Equal(t, 2, info.Tracks)
	assert.Equal(t, uint16(480), info.TicksPerQuarter)
	assert.InDelta(t, 60.0, info.Tempo, 0.001)
	assert.Equal(t, 3, info.Notes)
	assert.Equal(t, []uint8{0, 1, 9}, info.Channels)
	assert.Equal(t, map[uint8]uint8{1: 40}, info.Programs)
	assert.Equal(t, int64(1440), info.LengthTicks)
	assert.Equal(t, 3*time.Second, info.Duration)
	assert.Contains(t, info.String(), "3 notes")
}

func TestInspectMIDIRejectsGarbage(t *testing.T) {
	_, err := InspectMIDI([]byte("not a midi file"))
	assert.Error(t, err)
}

func TestTicksToDuration(t *testing.T) {
	tempos := []tempoChange{
		{tick: 0, microsPerBeat: 500000},
		{tick: 960, microsPerBeat: 1000000},
	}
	assert.Equal(t, time.Second, ticksToDuration(960, 480, tempos))
	assert.Equal(t, 2*time.Second, ticksToDuration(1440, 480, tempos))
	assert.Equal(t, time.Duration(0), ticksToDuration(100, 0, tempos))
	assert.Equal(t, 500*time.Millisecond, ticksToDuration(480, 480, nil))
}

func TestApplyChannelDefaults(t *testing.T) {
	out, err := ApplyChannelDefaults(sampleMIDI(t), 54, Effects{Reverb: false, Chorus: true})
	require.NoError(t, err)

	info, err := InspectMIDI(out)
	require.NoError(t, err)

	// channel 1 keeps its own program and percussion is never reassigned
	assert.Equal(t, map[uint8]uint8{0: 54, 1: 40}, info.Programs)
	assert.Equal(t, 3*time.Second, info.Duration)
	assert.Equal(t, 3, info.Notes)

	s, err := smf.ReadFrom(bytes.NewReader(out))
	require.NoError(t, err)

	reverbZeroed := map[uint8]bool{}
	for _, ev := range s.Tracks[1] {
		msg := ev.Message
		if len(msg) == 3 && msg[0]&0xF0 == 0xB0 {
			assert.Equal(t, uint8(ControllerReverbSend), msg[1], "only the reverb send is touched")
			assert.Equal(t, uint8(0), msg[2])
			reverbZeroed[msg[0]&0x0F] = true
		}
	}
	assert.Equal(t, map[uint8]bool{0: true, 1: true, 9: true}, reverbZeroed)
}

func TestApplyChannelDefaultsKeepsEffectsWhenEnabled(t *testing.T) {
	in := sampleMIDI(t)
	out, err := ApplyChannelDefaults(in, 0, Effects{Reverb: true, Chorus: true})
	require.NoError(t, err)

	s, err := smf.ReadFrom(bytes.NewReader(out))
	require.NoError(t, err)
	for _, track := range s.Tracks {
		for _, ev := range track {
			assert.NotEqual(t, byte(0xB0), ev.Message[0]&0xF0, "no controller changes expected")
		}
	}
}

func TestApplyChannelDefaultsRange(t *testing.T) {
	_, err := ApplyChannelDefaults(sampleMIDI(t), 128, Effects{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRange))
}

// programAtFirstNote replays data in merged playback order and returns the
// program active on ch when its first note sounds, or -1 if none was set
func programAtFirstNote(t *testing.T, data []byte, ch uint8) int {
	t.Helper()
	s, err := smf.ReadFrom(bytes.NewReader(data))
	require.NoError(t, err)

	type timed struct {
		pos eventPos
		msg []byte
	}
	var events []timed
	for ti, track := range s.Tracks {
		var tick int64
		for i, ev := range track {
			tick += int64(ev.Delta)
			events = append(events, timed{eventPos{tick, ti, i}, ev.Message})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].pos.before(events[j].pos) })

	program := -1
	for _, ev := range events {
		if len(ev.msg) < 2 || ev.msg[0]&0x0F != ch {
			continue
		}
		switch ev.msg[0] & 0xF0 {
		case 0xC0:
			program = int(ev.msg[1])
		case 0x90:
			if len(ev.msg) >= 3 && ev.msg[2] > 0 {
				return program
			}
		}
	}
	t.Fatalf("no note on channel %d", ch)
	return program
}

func TestApplyChannelDefaultsHonorsProgramsInOtherTracks(t *testing.T) {
	tests := []struct {
		name   string
		tracks [][]testEvent
		want   int
	}{
		{
			name: "setup track programs the channel",
			tracks: [][]testEvent{
				{{0, tempo60}, {0, midi.ProgramChange(0, 40)}},
				{{0, midi.NoteOn(0, 60, 100)}, {480, midi.NoteOff(0, 60)}},
			},
			want: 40,
		},
		{
			name: "later track programs the channel earlier",
			tracks: [][]testEvent{
				{{0, tempo60}},
				{{480, midi.NoteOn(0, 60, 100)}, {480, midi.NoteOff(0, 60)}},
				{{240, midi.ProgramChange(0, 33)}},
			},
			want: 33,
		},
		{
			name: "later track programs the channel at the note tick",
			tracks: [][]testEvent{
				{{0, tempo60}},
				{{480, midi.NoteOn(0, 60, 100)}, {480, midi.NoteOff(0, 60)}},
				{{480, midi.ProgramChange(0, 33)}},
			},
			// the note is merged first and would otherwise sound unprogrammed
			want: 54,
		},
		{
			name: "program change after the first note",
			tracks: [][]testEvent{
				{{0, tempo60}, {960, midi.ProgramChange(0, 40)}},
				{{0, midi.NoteOn(0, 60, 100)}, {480, midi.NoteOff(0, 60)}},
			},
			want: 54,
		},
		{
			name: "no program anywhere",
			tracks: [][]testEvent{
				{{0, tempo60}},
				{{0, midi.NoteOn(0, 60, 100)}, {480, midi.NoteOff(0, 60)}},
			},
			want: 54,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ApplyChannelDefaults(buildMIDI(t, tt.tracks...), 54, Effects{Reverb: true, Chorus: true})
			require.NoError(t, err)
			assert.Equal(t, tt.want, programAtFirstNote(t, out, 0))
		})
	}
}
