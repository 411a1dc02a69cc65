// Package encoder compresses PCM into MP3 by piping it through SoX
package encoder

import (
	"io"
	"sync"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	sox "github.com/thadeu/go-sox"

	"github.com/james-see/mml2mp3/pkg/converter"
)

// ErrPartialFrame is returned when the PCM stream ends inside a sample frame
var ErrPartialFrame = errors.New("PCM length is not a whole number of sample frames")

// compression is the SoX -C factor for MP3: integer part is the bitrate in
// kbps, the fraction selects LAME quality and .01 is the highest
const compression = 192.01

// MP3Encoder implements converter.Encoder
type MP3Encoder struct {
	format  converter.AudioFormat
	soxPath string
	logger  log.Interface

	once    sync.Once
	initErr error

	// swapped in tests that run without SoX
	check   func() error
	convert func(pcm io.Reader, mp3 io.Writer) error
}

// New creates an encoder for converter.StandardFormat using the sox binary on PATH
func New(logger log.Interface) *MP3Encoder {
	return NewWithPath("sox", logger)
}

// NewWithPath creates an encoder that runs the sox binary at soxPath
func NewWithPath(soxPath string, logger log.Interface) *MP3Encoder {
	if logger == nil {
		logger = log.Log
	}
	e := &MP3Encoder{
		format:  converter.StandardFormat,
		soxPath: soxPath,
		logger:  logger,
	}
	e.check = func() error { return sox.CheckSoxInstalled(e.soxPath) }
	e.convert = e.soxConvert
	return e
}

// Available reports whether the SoX binary could be started
func (e *MP3Encoder) Available() error {
	e.once.Do(func() {
		e.initErr = e.check()
	})
	return e.initErr
}

func (e *MP3Encoder) soxConvert(pcm io.Reader, mp3 io.Writer) error {
	input := sox.AudioFormat{
		Type:       sox.TYPE_RAW,
		Encoding:   sox.SIGNED_INTEGER,
		SampleRate: e.format.SampleRate,
		Channels:   e.format.Channels,
		BitDepth:   e.format.BitDepth,
		Endian:     "little",
	}
	output := sox.AudioFormat{
		Type:        sox.TYPE_MP3,
		SampleRate:  e.format.SampleRate,
		Channels:    e.format.Channels,
		Compression: compression,
	}

	opts := sox.DefaultOptions()
	opts.SoxPath = e.soxPath
	opts.BufferSize = e.format.BufferFrames * e.format.FrameBytes()

	return sox.NewConverter(input, output).WithOptions(opts).Convert(pcm, mp3)
}

// Encode reads raw little-endian interleaved 16-bit PCM from pcm and writes
// MP3 to mp3. Input is consumed in blocks of BufferFrames frames.
func (e *MP3Encoder) Encode(pcm io.Reader, mp3 io.Writer) error {
	if err := e.Available(); err != nil {
		return converter.EncodingError(err, "encoder initialization")
	}

	frames := newFrameReader(pcm, e.format.FrameBytes(), e.format.BufferFrames)
	out := &countingWriter{w: mp3}

	err := e.convert(frames, out)
	if frames.err != nil {
		return converter.EncodingError(frames.err, "read PCM")
	}
	if err != nil {
		return converter.EncodingError(err, "sox")
	}

	e.logger.WithFields(log.Fields{
		"frames":  frames.frames,
		"bytes":   out.n,
		"bitrate": e.format.BitrateKbps,
	}).Debug("Encoded MP3")
	return nil
}

// frameReader passes through whole sample frames in fixed size blocks and
// records an error when the source ends mid-frame
type frameReader struct {
	src        io.Reader
	frameBytes int
	block      []byte
	pending    []byte
	frames     int64
	err        error
	eof        bool
}

func newFrameReader(src io.Reader, frameBytes, blockFrames int) *frameReader {
	return &frameReader{
		src:        src,
		frameBytes: frameBytes,
		block:      make([]byte, frameBytes*blockFrames),
	}
}

func (r *frameReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.eof {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil && len(r.pending) == 0 {
			return 0, err
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *frameReader) fill() error {
	n, err := io.ReadFull(r.src, r.block)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		r.eof = true
		if n%r.frameBytes != 0 {
			r.err = errors.Wrapf(ErrPartialFrame, "%d trailing bytes", n%r.frameBytes)
			n -= n % r.frameBytes
		}
	default:
		r.err = errors.Wrap(err, "failed to read PCM")
		return r.err
	}

	r.pending = r.block[:n]
	r.frames += int64(n / r.frameBytes)
	if n == 0 {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

var _ converter.Encoder = (*MP3Encoder)(nil)
