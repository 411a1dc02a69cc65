// Package pipeline assembles the default conversion controller
package pipeline

import (
	"os"

	"github.com/apex/log"

	"github.com/james-see/mml2mp3/pkg/converter"
	"github.com/james-see/mml2mp3/pkg/converter/encoder"
	"github.com/james-see/mml2mp3/pkg/converter/notation"
	"github.com/james-see/mml2mp3/pkg/converter/synth"
)

// SoundFontEnv names the environment variable holding the default soundfont
const SoundFontEnv = "MML2MP3_SOUNDFONT"

// Factory builds a controller for one conversion session
type Factory func(cfg converter.Config) *converter.Controller

// New builds a controller backed by the notation translator, the
// meltysynth synthesizer and the SoX MP3 encoder
func New(cfg converter.Config) *converter.Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Log
	}
	return converter.New(notation.NewTranslator(), synth.New(logger), encoder.New(logger), cfg)
}

// SoundFont returns path, or the value of SoundFontEnv when path is empty
func SoundFont(path string) string {
	if path != "" {
		return path
	}
	return os.Getenv(SoundFontEnv)
}
