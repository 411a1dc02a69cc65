// Package main is the entry point for the mml2mp3 CLI
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/discard"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/james-see/mml2mp3/pkg/api"
	"github.com/james-see/mml2mp3/pkg/converter"
	"github.com/james-see/mml2mp3/pkg/pipeline"
	"github.com/james-see/mml2mp3/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	reverb     bool
	chorus     bool
	workDir    string
	verbose    bool
	soundFont  string
	serverPort int
	instrument int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		printFailure(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mml2mp3 <input_file> <soundfont_file> <output_mp3> [instrument_number]",
	Short: "Render MML or MIDI files to MP3 through a SoundFont",
	Long: `mml2mp3 converts Music Macro Language text (.mml) or Standard MIDI
files (.mid, .midi) into MP3 audio. Notation is translated to MIDI, rendered
through a SoundFont (.sf2) and encoded at 192 kbps, 44.1 kHz stereo.

The optional instrument number (0-127) selects the General MIDI program used
on channels that do not choose one themselves. The default is 0 (Acoustic
Grand Piano).

Examples:
  mml2mp3 song.mml piano.sf2 song.mp3
  mml2mp3 song.mid gm.sf2 song.mp3 24 --reverb=false
  mml2mp3 info song.mml
  mml2mp3 instruments
  mml2mp3 serve --port 8080 --soundfont gm.sf2`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	Args:          cobra.RangeArgs(3, 4),
	RunE:          runConvert,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var infoCmd = &cobra.Command{
	Use:   "info <input>",
	Short: "Show statistics for an MML or MIDI file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var validateCmd = &cobra.Command{
	Use:   "validate <input>",
	Short: "Check that a file can be converted without converting it",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var instrumentsCmd = &cobra.Command{
	Use:   "instruments",
	Short: "List General MIDI instrument numbers",
	Args:  cobra.NoArgs,
	RunE:  runInstruments,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&reverb, "reverb", true, "Enable the synthesizer reverb")
	rootCmd.PersistentFlags().BoolVar(&chorus, "chorus", true, "Enable the synthesizer chorus")
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", ".", "Directory for temporary files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every pipeline stage")

	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "Server port")
	serveCmd.Flags().StringVarP(&soundFont, "soundfont", "s", "", "SoundFont file (default $"+pipeline.SoundFontEnv+")")
	tuiCmd.Flags().StringVarP(&soundFont, "soundfont", "s", "", "SoundFont file (default $"+pipeline.SoundFontEnv+")")
	tuiCmd.Flags().IntVarP(&instrument, "instrument", "i", 0, "General MIDI program 0-127")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(instrumentsCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
}

func newLogger() log.Interface {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return &log.Logger{Handler: cli.New(os.Stderr), Level: level}
}

func newConfig(logger log.Interface) converter.Config {
	cfg := converter.DefaultConfig()
	cfg.WorkDir = workDir
	cfg.Effects = converter.Effects{Reverb: reverb, Chorus: chorus}
	cfg.Logger = logger
	return cfg
}

// parseInstrument reads the optional instrument argument
func parseInstrument(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, converter.InputError(err, "instrument number must be an integer")
	}
	if n < 0 || n > 127 {
		return 0, converter.RangeError("instrument", n, 0, 127)
	}
	return n, nil
}

var stageLabels = map[converter.Stage]string{
	converter.StageTranslate:  "Translating notation to MIDI",
	converter.StageSynthesize: "Synthesizing audio",
	converter.StageEncode:     "Encoding MP3",
}

func runConvert(cmd *cobra.Command, args []string) error {
	input, sf, output := args[0], args[1], args[2]
	program := 0
	if len(args) == 4 {
		var err error
		if program, err = parseInstrument(args[3]); err != nil {
			return err
		}
	}

	logger := newLogger()
	cfg := newConfig(logger)
	cfg.OnStage = func(s converter.Stage) {
		if label, ok := stageLabels[s]; ok {
			fmt.Printf("  %s...\n", label)
		}
	}
	ctrl := pipeline.New(cfg)
	defer func() { _ = ctrl.Close() }()

	if err := ctrl.LoadSoundFont(sf); err != nil {
		return err
	}
	if err := ctrl.SetInstrument(program); err != nil {
		return err
	}

	fmt.Printf("Converting %s -> %s (%s)\n", input, output, converter.InstrumentName(program))
	report, err := ctrl.Convert(input, output)
	if err != nil {
		return err
	}
	if report.CleanupErr != nil {
		logger.WithError(report.CleanupErr).Warn("Temporary files could not be removed")
	}

	fmt.Printf("Conversion complete! %s of audio, %d bytes written in %s\n",
		report.Audio.Round(10*time.Millisecond), report.OutputBytes, report.Elapsed.Round(time.Millisecond))
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctrl := pipeline.New(newConfig(newLogger()))
	defer func() { _ = ctrl.Close() }()

	info, err := ctrl.Info(args[0])
	if err != nil {
		return err
	}
	fmt.Print(info.String())
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctrl := pipeline.New(newConfig(newLogger()))
	defer func() { _ = ctrl.Close() }()

	if err := ctrl.Validate(args[0]); err != nil {
		return err
	}
	fmt.Printf("%s is valid (%s)\n", args[0], converter.DetectInputKind(args[0]))
	return nil
}

func runInstruments(cmd *cobra.Command, args []string) error {
	for _, inst := range converter.Instruments() {
		fmt.Printf("%3d  %s\n", inst.Program, inst.Name)
	}
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	// the alternate screen owns the terminal, so log output is dropped
	logger := &log.Logger{Handler: discard.New(), Level: log.ErrorLevel}
	if instrument < 0 || instrument > 127 {
		return converter.RangeError("instrument", instrument, 0, 127)
	}
	return tui.Run(tui.Options{
		SoundFont:  pipeline.SoundFont(soundFont),
		Instrument: instrument,
		Config:     newConfig(logger),
		New:        pipeline.New,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	opts := api.Options{
		SoundFont: pipeline.SoundFont(soundFont),
		Effects:   converter.Effects{Reverb: reverb, Chorus: chorus},
		Logger:    logger,
		New:       pipeline.New,
	}
	if err := converter.CheckSoundFont(opts.SoundFont); err != nil {
		return errors.Wrapf(err, "serve (set --soundfont or $%s)", pipeline.SoundFontEnv)
	}
	fmt.Printf("Starting API server on port %d...\n", serverPort)
	return api.StartServer(serverPort, opts)
}

// printFailure reports err on stderr, naming the failed stage when known
func printFailure(err error) {
	var se *converter.StageError
	if errors.As(err, &se) {
		fmt.Fprintf(os.Stderr, "Conversion failed during %s stage: %v\n", se.Stage, se.Cause)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
