package notation

import (
	"bytes"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/james-see/mml2mp3/pkg/converter"
)

func TestTranslateScale(t *testing.T) {
	data, err := NewTranslator().Translate("T120L4CDEFGAB>C;")
	require.NoError(t, err)
	assert.Equal(t, "MThd", string(data[:4]))

	info, err := converter.InspectMIDI(data)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Tracks)
	assert.Equal(t, uint16(480), info.TicksPerQuarter)
	assert.Equal(t, 8, info.Notes)
	assert.InDelta(t, 120.0, info.Tempo, 0.01)
	assert.Equal(t, 4*time.Second, info.Duration)
	assert.Equal(t, []uint8{0}, info.Channels)
	assert.Empty(t, info.Programs, "instrument is left to the synthesizer")
}

func TestTranslateTracksUseSeparateChannels(t *testing.T) {
	data, err := NewTranslator().Translate("MML@T240CDEF,O3C1,O5G2G2;")
	require.NoError(t, err)

	info, err := converter.InspectMIDI(data)
	require.NoError(t, err)
	assert.Equal(t, 4, info.Tracks)
	assert.Equal(t, []uint8{0, 1, 2}, info.Channels)
	assert.Equal(t, 7, info.Notes)
	assert.Equal(t, time.Second, info.Duration)
}

func TestTranslateSilentNotesAdvanceTime(t *testing.T) {
	data, err := NewTranslator().Translate("V0C V8D;")
	require.NoError(t, err)

	s, err := smf.ReadFrom(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, s.Tracks, 2)

	var tick uint32
	var onsets []uint32
	for _, ev := range s.Tracks[1] {
		tick += ev.Delta
		if len(ev.Message) == 3 && ev.Message[0]&0xF0 == 0x90 && ev.Message[2] > 0 {
			onsets = append(onsets, tick)
		}
	}
	assert.Equal(t, []uint32{480}, onsets)
}

func TestTranslateTempoMap(t *testing.T) {
	// one beat at 120 then one beat at 60
	data, err := NewTranslator().Translate("C T60 C;")
	require.NoError(t, err)

	info, err := converter.InspectMIDI(data)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, info.Tempo, 0.01)
	assert.Equal(t, 1500*time.Millisecond, info.Duration)
}

func TestTranslateErrorsAreNotationErrors(t *testing.T) {
	tr := NewTranslator()

	_, err := tr.Translate("CDE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, converter.ErrNotation))
	assert.True(t, errors.Is(err, ErrUnterminated))

	err = tr.Validate("T999C;")
	require.Error(t, err)
	assert.True(t, errors.Is(err, converter.ErrNotation))
	assert.True(t, errors.Is(err, ErrOutOfRange))

	assert.NoError(t, tr.Validate("MML@T120L8CDEC,O3C1;"))
}

// Angle-bracket keywords are not part of the grammar: '<' is octave down and
// the "tempo" word that follows is a T command without a number.
func TestTranslateRejectsKeywordSyntax(t *testing.T) {
	_, err := NewTranslator().Translate("<tempo 120><len 4>CDEFGAB><C>;")
	require.Error(t, err)
	assert.True(t, errors.Is(err, converter.ErrNotation))
	assert.True(t, errors.Is(err, ErrMissingNumber))

	var se *SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, se.Track)
	assert.Equal(t, 1, se.Offset)

	// the same melody in command syntax renders in four seconds
	data, err := NewTranslator().Translate("T120 L4 CDEFGAB>C;")
	require.NoError(t, err)
	info, err := converter.InspectMIDI(data)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, info.Duration)
}
