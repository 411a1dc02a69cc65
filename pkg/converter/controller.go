package converter

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
)

// Phase is the coarse position of a Controller in its lifecycle
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSoundfontLoaded
	PhaseInstrumentSet
	PhaseConverting
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSoundfontLoaded:
		return "soundfont-loaded"
	case PhaseInstrumentSet:
		return "instrument-set"
	case PhaseConverting:
		return "converting"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a snapshot of the controller. Stage and Cause are only set when
// Phase is PhaseFailed.
type State struct {
	Phase Phase
	Stage Stage
	Cause error
}

// Config holds controller configuration
type Config struct {
	// WorkDir receives the temp artifacts of every conversion
	WorkDir string
	Effects Effects
	Logger  log.Interface
	// OnStage, when set, is called as each pipeline stage starts
	OnStage func(Stage)
}

// DefaultConfig returns the default controller configuration
func DefaultConfig() Config {
	return Config{
		WorkDir: ".",
		Effects: Effects{Reverb: true, Chorus: true},
		Logger:  log.Log,
	}
}

// Controller sequences translation, synthesis and encoding for one
// conversion at a time
type Controller struct {
	translator NotationTranslator
	synth      Synthesizer
	encoder    Encoder
	cfg        Config
	logger     log.Interface

	// mu guards the fields below. It is never held while a stage runs.
	mu            sync.Mutex
	state         State
	soundFont     string
	instrument    int
	instrumentSet bool
	effects       Effects
	request       Request
	closed        bool
}

// New creates a controller around the given collaborators
func New(translator NotationTranslator, synth Synthesizer, encoder Encoder, cfg Config) *Controller {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Log
	}
	synth.SetEffects(cfg.Effects)
	return &Controller{
		translator: translator,
		synth:      synth,
		encoder:    encoder,
		cfg:        cfg,
		logger:     cfg.Logger,
		effects:    cfg.Effects,
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Request returns the most recent conversion request
func (c *Controller) Request() Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request
}

// LoadSoundFont validates and registers the soundfont used for synthesis
func (c *Controller) LoadSoundFont(path string) error {
	if err := CheckSoundFont(path); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIdleLocked("load soundfont"); err != nil {
		return err
	}

	if err := c.synth.LoadSoundFont(path); err != nil {
		if errors.Is(err, ErrInput) {
			return err
		}
		return InputError(err, "load soundfont")
	}

	c.soundFont = path
	if c.instrumentSet {
		c.state = State{Phase: PhaseInstrumentSet}
	} else {
		c.state = State{Phase: PhaseSoundfontLoaded}
	}
	c.logger.WithField("soundfont", path).Info("Loaded soundfont")
	return nil
}

// SetInstrument selects the General MIDI program used where the input does
// not choose one itself
func (c *Controller) SetInstrument(program int) error {
	if program < 0 || program > 127 {
		return RangeError("instrument", program, 0, 127)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIdleLocked("set instrument"); err != nil {
		return err
	}
	if c.soundFont == "" {
		return SequenceError("set instrument: no soundfont loaded")
	}

	if err := c.synth.SetInstrument(program); err != nil {
		return err
	}

	c.instrument = program
	c.instrumentSet = true
	c.state = State{Phase: PhaseInstrumentSet}
	c.logger.WithFields(log.Fields{"program": program, "name": InstrumentName(program)}).Debug("Selected instrument")
	return nil
}

// SetEffects toggles reverb and chorus for subsequent conversions
func (c *Controller) SetEffects(fx Effects) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIdleLocked("set effects"); err != nil {
		return err
	}
	c.effects = fx
	c.synth.SetEffects(fx)
	return nil
}

// Close releases the synthesis engine. The controller cannot be used afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if c.state.Phase == PhaseConverting {
		return SequenceError("close: conversion in progress")
	}
	c.closed = true
	return c.synth.Close()
}

func (c *Controller) checkIdleLocked(op string) error {
	if c.closed {
		return SequenceError("%s: controller is closed", op)
	}
	if c.state.Phase == PhaseConverting {
		return SequenceError("%s: conversion in progress", op)
	}
	return nil
}

// Convert runs the whole pipeline from input to an MP3 file at output.
// Every temp artifact is removed before Convert returns. A failed stage is
// reported as a *StageError.
func (c *Controller) Convert(input, output string) (*Report, error) {
	c.mu.Lock()
	if err := c.checkIdleLocked("convert"); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if !c.instrumentSet || c.soundFont == "" {
		c.mu.Unlock()
		return nil, SequenceError("convert: soundfont and instrument must be set first (state %s)", c.state.Phase)
	}

	kind := DetectInputKind(input)
	if kind == KindUnknown {
		c.mu.Unlock()
		return nil, InputError(errors.Newf("unsupported input extension %q", filepath.Ext(input)), "detect input kind")
	}
	if output == "" {
		c.mu.Unlock()
		return nil, InputError(errors.New("empty output path"), "convert")
	}

	req := Request{
		InputPath:  input,
		Kind:       kind,
		SoundFont:  c.soundFont,
		OutputPath: output,
		Instrument: c.instrument,
		Effects:    c.effects,
	}
	c.request = req
	c.state = State{Phase: PhaseConverting}
	c.mu.Unlock()

	logger := c.logger.WithFields(log.Fields{
		"input":  input,
		"output": output,
		"kind":   kind,
	})
	logger.Info("Starting conversion")

	started := time.Now()
	report := &Report{Request: req}
	err := c.run(req, report, logger)
	report.Elapsed = time.Since(started)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = State{Phase: PhaseFailed, Stage: StageOf(err), Cause: err}
		logger.WithError(err).WithField("stage", StageOf(err)).Error("Conversion failed")
		return report, err
	}
	c.state = State{Phase: PhaseCompleted}
	logger.WithFields(log.Fields{
		"bytes":    report.OutputBytes,
		"duration": report.Audio,
		"elapsed":  report.Elapsed,
	}).Info("Conversion complete")
	return report, nil
}

// run executes the stages in order. Artifacts are released on every path.
func (c *Controller) run(req Request, report *Report, logger log.Interface) (err error) {
	artifacts := NewArtifactManager(c.cfg.WorkDir, logger)
	defer func() {
		report.Artifacts = artifacts.Paths()
		cleanupErr := artifacts.ReleaseAll()
		if cleanupErr == nil {
			return
		}
		var se *StageError
		if err != nil && errors.As(err, &se) {
			se.Cause = errors.WithSecondaryError(se.Cause, cleanupErr)
			return
		}
		report.CleanupErr = cleanupErr
	}()

	c.enter(StageRead)
	data, err := os.ReadFile(req.InputPath)
	if err != nil {
		return &StageError{Stage: StageRead, Cause: InputError(err, "read input")}
	}
	if sniffed := SniffInputKind(data); sniffed != KindUnknown && sniffed != req.Kind {
		logger.WithField("content", sniffed).Warn("Input content does not match its extension")
	}

	midiData := data
	if req.Kind == KindNotation {
		c.enter(StageTranslate)
		midiData, err = c.translate(data, artifacts)
		if err != nil {
			return &StageError{Stage: StageTranslate, Cause: err}
		}
	}

	c.enter(StageSynthesize)
	pcmPath, duration, err := c.synthesize(midiData, artifacts)
	if err != nil {
		return &StageError{Stage: StageSynthesize, Cause: err}
	}
	report.Audio = duration

	c.enter(StageEncode)
	n, err := c.encode(pcmPath, req.OutputPath)
	if err != nil {
		return &StageError{Stage: StageEncode, Cause: err}
	}
	report.OutputBytes = n
	return nil
}

func (c *Controller) enter(stage Stage) {
	c.logger.WithField("stage", stage).Debug("Entering stage")
	if c.cfg.OnStage != nil {
		c.cfg.OnStage(stage)
	}
}

// translate turns notation into MIDI and routes it through a temp MIDI artifact
func (c *Controller) translate(text []byte, artifacts *ArtifactManager) ([]byte, error) {
	if !utf8.Valid(text) {
		return nil, NotationError(errors.New("notation is not valid UTF-8 text"))
	}
	midiData, err := c.translator.Translate(string(text))
	if err != nil {
		return nil, NotationError(err)
	}

	a, err := artifacts.Create(ArtifactMIDI)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(a.Path, midiData, 0644); err != nil {
		return nil, ArtifactError(err, "write temp MIDI")
	}
	stored, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, ArtifactError(err, "read temp MIDI")
	}
	return stored, nil
}

func (c *Controller) synthesize(midiData []byte, artifacts *ArtifactManager) (string, time.Duration, error) {
	pcm, err := c.synth.Render(midiData)
	if err != nil {
		if errors.Is(err, ErrSynthesis) {
			return "", 0, err
		}
		return "", 0, SynthesisError(err, "render")
	}

	a, err := artifacts.Create(ArtifactPCM)
	if err != nil {
		return "", 0, err
	}
	if err := WritePCMFile(a.Path, pcm); err != nil {
		return "", 0, ArtifactError(err, "write temp PCM")
	}
	return a.Path, pcm.Duration(), nil
}

// encode compresses the PCM artifact into output. No output file is left
// behind when encoding fails.
func (c *Controller) encode(pcmPath, output string) (n int64, err error) {
	pcm, err := OpenPCMFile(pcmPath)
	if err != nil {
		return 0, ArtifactError(err, "open temp PCM")
	}
	defer pcm.Close()

	f, err := os.OpenFile(output, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, EncodingError(err, "create output")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(output)
		}
	}()

	w := bufio.NewWriter(f)
	if err := c.encoder.Encode(pcm, w); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrEncoding) {
			return 0, err
		}
		return 0, EncodingError(err, "encode")
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return 0, EncodingError(err, "flush output")
	}
	if err := f.Close(); err != nil {
		return 0, EncodingError(err, "close output")
	}

	if err := VerifyMP3File(output); err != nil {
		return 0, EncodingError(err, "verify output")
	}
	st, err := os.Stat(output)
	if err != nil {
		return 0, EncodingError(err, "stat output")
	}
	return st.Size(), nil
}

// CheckSoundFont verifies that path names a readable RIFF sfbk file
func CheckSoundFont(path string) error {
	if path == "" {
		return InputError(errors.New("empty path"), "soundfont")
	}
	f, err := os.Open(path)
	if err != nil {
		return InputError(err, "open soundfont")
	}
	defer f.Close()

	head := make([]byte, 12)
	if _, err := io.ReadFull(f, head); err != nil {
		return InputError(err, "read soundfont header")
	}
	if !bytes.Equal(head[0:4], []byte("RIFF")) || !bytes.Equal(head[8:12], []byte("sfbk")) {
		return InputError(errors.Newf("%s is not a RIFF sfbk soundfont", filepath.Base(path)), "check soundfont")
	}
	return nil
}
