package converter

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// WritePCMFile stores buf as a 16-bit WAV file at path
func WritePCMFile(path string, buf *PCMBuffer) error {
	if buf == nil {
		return errors.New("nil PCM buffer")
	}
	if buf.Channels <= 0 || len(buf.Samples)%buf.Channels != 0 {
		return errors.Newf("PCM buffer of %d samples is not a whole number of %d-channel frames", len(buf.Samples), buf.Channels)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create PCM file")
	}

	enc := wav.NewEncoder(f, buf.SampleRate, StandardFormat.BitDepth, buf.Channels, wavFormatPCM)
	format := &audio.Format{NumChannels: buf.Channels, SampleRate: buf.SampleRate}

	// Convert in blocks so the int copy never holds the whole song
	block := StandardFormat.BufferFrames * buf.Channels
	data := make([]int, 0, block)
	// an empty buffer still gets a data chunk
	for start := 0; start == 0 || start < len(buf.Samples); start += block {
		end := start + block
		if end > len(buf.Samples) {
			end = len(buf.Samples)
		}
		data = data[:0]
		for _, s := range buf.Samples[start:end] {
			data = append(data, int(s))
		}
		ib := &audio.IntBuffer{Format: format, Data: data, SourceBitDepth: StandardFormat.BitDepth}
		if err := enc.Write(ib); err != nil {
			_ = f.Close()
			return errors.Wrap(err, "failed to write PCM samples")
		}
	}

	if err := enc.Close(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "failed to finalize PCM file")
	}
	return errors.Wrap(f.Close(), "failed to close PCM file")
}

// PCMReader streams the sample data of a WAV file as raw little-endian bytes
type PCMReader struct {
	f       *os.File
	dec     *wav.Decoder
	buf     *audio.IntBuffer
	pending []byte
	Format  AudioFormat
}

// OpenPCMFile opens a WAV file written by WritePCMFile
func OpenPCMFile(path string) (*PCMReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open PCM file")
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		_ = f.Close()
		return nil, errors.New("PCM file is not a valid WAV file")
	}
	if err := dec.FwdToPCM(); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "failed to locate PCM data")
	}
	if int(dec.BitDepth) != StandardFormat.BitDepth {
		_ = f.Close()
		return nil, errors.Newf("unsupported bit depth %d", dec.BitDepth)
	}

	format := StandardFormat
	format.SampleRate = int(dec.SampleRate)
	format.Channels = int(dec.NumChans)

	return &PCMReader{
		f:   f,
		dec: dec,
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			Data:   make([]int, format.BufferFrames*format.Channels),
		},
		Format: format,
	}, nil
}

// Read implements io.Reader
func (r *PCMReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		n, err := r.dec.PCMBuffer(r.buf)
		if err != nil && err != io.EOF {
			return 0, errors.Wrap(err, "failed to read PCM samples")
		}
		if n == 0 {
			return 0, io.EOF
		}
		out := make([]byte, n*2)
		for i, s := range r.buf.Data[:n] {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
		}
		r.pending = out
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Close releases the underlying file
func (r *PCMReader) Close() error {
	return r.f.Close()
}
