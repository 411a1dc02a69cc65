package synth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-see/mml2mp3/pkg/converter"
	"github.com/james-see/mml2mp3/pkg/converter/notation"
)

func quietLogger() log.Interface {
	return &log.Logger{Handler: discard.New(), Level: log.ErrorLevel}
}

// testSoundFont returns a real SoundFont for rendering tests or skips
func testSoundFont(t *testing.T) string {
	t.Helper()
	path := os.Getenv("MML2MP3_TEST_SOUNDFONT")
	if path == "" {
		t.Skip("MML2MP3_TEST_SOUNDFONT not set")
	}
	return path
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestLoadSoundFontRejectsBadFiles(t *testing.T) {
	s := New(quietLogger())

	err := s.LoadSoundFont(filepath.Join(t.TempDir(), "missing.sf2"))
	assert.True(t, errors.Is(err, converter.ErrInput))

	err = s.LoadSoundFont(writeFile(t, "fake.sf2", []byte("RIFF\x00\x00\x00\x00WAVEfmt ")))
	assert.True(t, errors.Is(err, converter.ErrInput))
}

func TestSetInstrumentRange(t *testing.T) {
	s := New(quietLogger())
	for _, program := range []int{0, 54, 127} {
		assert.NoError(t, s.SetInstrument(program))
	}
	for _, program := range []int{-1, 128, 200} {
		err := s.SetInstrument(program)
		assert.True(t, errors.Is(err, converter.ErrRange), "program %d", program)
	}
	assert.Contains(t, s.String(), "program 127")
}

func TestRenderWithoutSoundFont(t *testing.T) {
	_, err := New(quietLogger()).Render([]byte("MThd"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, converter.ErrSynthesis))
}

func TestRenderCorruptSoundFont(t *testing.T) {
	data := append([]byte("RIFF\x10\x00\x00\x00sfbk"), []byte("LIST\xff\xff\xff\x7fjunk")...)
	s := New(quietLogger())
	require.NoError(t, s.LoadSoundFont(writeFile(t, "corrupt.sf2", data)))

	midi, err := notation.NewTranslator().Translate("CDE;")
	require.NoError(t, err)

	_, err = s.Render(midi)
	require.Error(t, err)
	assert.True(t, errors.Is(err, converter.ErrSynthesis))
}

func TestToInt16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{0.5, 16383},
		{-0.5, -16383},
		{1, 32767},
		{1.7, 32767},
		{-3, -32767},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toInt16(tt.in), "input %v", tt.in)
	}
}

func TestRenderScale(t *testing.T) {
	s := New(quietLogger())
	require.NoError(t, s.LoadSoundFont(testSoundFont(t)))
	require.NoError(t, s.SetInstrument(0))

	midi, err := notation.NewTranslator().Translate("T120L4CDEFGAB>C;")
	require.NoError(t, err)

	buf, err := s.Render(midi)
	require.NoError(t, err)
	assert.Equal(t, 2, buf.Channels)
	assert.Equal(t, 44100, buf.SampleRate)
	assert.InDelta(t, float64(4*time.Second), float64(buf.Duration()), float64(10*time.Millisecond))

	var peak int16
	for _, v := range buf.Samples {
		if v > peak {
			peak = v
		}
	}
	assert.Greater(t, peak, int16(0), "rendered audio is silent")
}

func TestRenderIsDeterministic(t *testing.T) {
	s := New(quietLogger())
	require.NoError(t, s.LoadSoundFont(testSoundFont(t)))
	require.NoError(t, s.SetInstrument(54))
	s.SetEffects(converter.Effects{Reverb: false, Chorus: true})

	midi, err := notation.NewTranslator().Translate("T180 O5 CEG>C;")
	require.NoError(t, err)

	first, err := s.Render(midi)
	require.NoError(t, err)
	second, err := s.Render(midi)
	require.NoError(t, err)
	assert.Equal(t, first.Samples, second.Samples)

	require.NoError(t, s.Close())
	third, err := s.Render(midi)
	require.NoError(t, err)
	assert.Equal(t, first.Samples, third.Samples)
}
