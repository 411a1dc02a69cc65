package converter

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMFileRoundTrip(t *testing.T) {
	// more than one block so the reader refills
	frames := StandardFormat.BufferFrames*2 + 17
	buf := &PCMBuffer{SampleRate: 44100, Channels: 2, Samples: make([]int16, frames*2)}
	for i := range buf.Samples {
		buf.Samples[i] = int16((i * 37) % 65536)
	}

	path := filepath.Join(t.TempDir(), "pcm.wav")
	require.NoError(t, WritePCMFile(path, buf))

	r, err := OpenPCMFile(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 44100, r.Format.SampleRate)
	assert.Equal(t, 2, r.Format.Channels)

	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Len(t, raw, len(buf.Samples)*2)
	for i, want := range buf.Samples {
		got := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		if got != want {
			t.Fatalf("sample %d = %d, want %d", i, got, want)
		}
	}
}

func TestPCMFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	require.NoError(t, WritePCMFile(path, &PCMBuffer{SampleRate: 44100, Channels: 2}))

	r, err := OpenPCMFile(path)
	require.NoError(t, err)
	defer r.Close()

	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestWritePCMFileRejectsPartialFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	err := WritePCMFile(path, &PCMBuffer{SampleRate: 44100, Channels: 2, Samples: []int16{1, 2, 3}})
	assert.Error(t, err)
	assert.Error(t, WritePCMFile(path, nil))
}

func TestOpenPCMFileRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notwav.wav")
	require.NoError(t, os.WriteFile(path, []byte("this is not audio at all"), 0644))

	_, err := OpenPCMFile(path)
	assert.Error(t, err)

	_, err = OpenPCMFile(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}
