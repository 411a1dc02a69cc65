// Package tui provides a terminal user interface for mml2mp3
package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/james-see/mml2mp3/pkg/converter"
	"github.com/james-see/mml2mp3/pkg/pipeline"
)

var (
	accent = lipgloss.Color("#7CFC9A")
	faint  = lipgloss.Color("#6C7086")
	alarm  = lipgloss.Color("#F38BA8")

	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#11111B")).Background(accent).Padding(0, 1)
	statusBar   = lipgloss.NewStyle().Foreground(faint).PaddingLeft(1)
	headingText = lipgloss.NewStyle().Bold(true)
	cursorText  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	dimText     = lipgloss.NewStyle().Foreground(faint)
	failText    = lipgloss.NewStyle().Foreground(alarm).Bold(true)
	panel       = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderLeft(true).BorderForeground(accent).PaddingLeft(2).MarginTop(1)
)

// Screen is the part of the application currently shown
type Screen int

const (
	ScreenHome Screen = iota
	ScreenBrowse
	ScreenRender
	ScreenDone
)

// flow is one of the two ways into an MP3
type flow struct {
	kind  converter.InputKind
	label string
	blurb string
	exts  []string
}

var flows = []flow{
	{kind: converter.KindNotation, label: "MML → MP3", blurb: "text notation, translated to MIDI first", exts: []string{".mml"}},
	{kind: converter.KindMIDI, label: "MIDI → MP3", blurb: "Standard MIDI file, rendered as is", exts: []string{".mid", ".midi"}},
}

// quitRow is the cursor position below the last flow
var quitRow = len(flows)

var footers = map[Screen]string{
	ScreenHome:   "j/k move · enter choose · q quit",
	ScreenBrowse: "enter open/pick · esc home · ctrl+c quit",
	ScreenRender: "ctrl+c quit",
	ScreenDone:   "enter home · q quit",
}

// Options configures the conversions started from the TUI
type Options struct {
	SoundFont  string
	Instrument int
	Config     converter.Config
	// New builds the controller for each conversion
	New pipeline.Factory
}

// job is the file pair of one conversion
type job struct {
	input  string
	output string
}

// Model is the bubbletea model of the TUI
type Model struct {
	opts    Options
	screen  Screen
	cursor  int
	browser filepicker.Model
	spin    spinner.Model
	active  flow
	job     job
	report  *converter.Report
	err     error
}

type renderedMsg struct {
	report *converter.Report
	err    error
}

// New creates a model positioned on the home screen
func New(opts Options) Model {
	fp := filepicker.New()
	fp.AllowedTypes = converter.SupportedExtensions()
	fp.CurrentDirectory, _ = os.Getwd()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = cursorText

	return Model{opts: opts, browser: fp, spin: sp}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.browser.SetHeight(max(msg.Height-8, 5))
		return m, nil
	case spinner.TickMsg:
		if m.screen != ScreenRender {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case renderedMsg:
		m.screen = ScreenDone
		m.report, m.err = msg.report, msg.err
		return m, nil
	}

	switch m.screen {
	case ScreenHome:
		return m.onHome(msg)
	case ScreenBrowse:
		return m.onBrowse(msg)
	case ScreenDone:
		return m.onDone(msg)
	}
	return m, nil
}

func (m Model) onHome(msg tea.Msg) (tea.Model, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch k.String() {
	case "up", "k":
		m.cursor = max(m.cursor-1, 0)
	case "down", "j":
		m.cursor = min(m.cursor+1, quitRow)
	case "q":
		return m, tea.Quit
	case "enter":
		if m.cursor == quitRow {
			return m, tea.Quit
		}
		m.active = flows[m.cursor]
		m.browser.AllowedTypes = m.active.exts
		m.screen = ScreenBrowse
		return m, m.browser.Init()
	}
	return m, nil
}

// onBrowse hands every message to the file picker, which loads directories asynchronously
func (m Model) onBrowse(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok && k.String() == "esc" {
		m.screen = ScreenHome
		return m, nil
	}

	var cmd tea.Cmd
	m.browser, cmd = m.browser.Update(msg)
	picked, path := m.browser.DidSelectFile(msg)
	if !picked {
		return m, cmd
	}
	m.job = job{input: path, output: mp3Path(path)}
	m.screen = ScreenRender
	return m, tea.Batch(m.spin.Tick, m.render())
}

func (m Model) onDone(msg tea.Msg) (tea.Model, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch k.String() {
	case "q":
		return m, tea.Quit
	case "enter", "esc":
		m.screen = ScreenHome
		m.job, m.report, m.err = job{}, nil, nil
	}
	return m, nil
}

// mp3Path places the MP3 next to its input
func mp3Path(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".mp3"
}

// render runs the whole conversion off the UI goroutine
func (m Model) render() tea.Cmd {
	j, opts := m.job, m.opts
	return func() tea.Msg {
		cfg := opts.Config
		if cfg.WorkDir == "" || cfg.WorkDir == "." {
			cfg.WorkDir = filepath.Dir(j.input)
		}
		ctrl := opts.New(cfg)
		defer func() { _ = ctrl.Close() }()

		if err := ctrl.LoadSoundFont(opts.SoundFont); err != nil {
			return renderedMsg{err: err}
		}
		if err := ctrl.SetInstrument(opts.Instrument); err != nil {
			return renderedMsg{err: err}
		}
		report, err := ctrl.Convert(j.input, j.output)
		return renderedMsg{report: report, err: err}
	}
}

// View implements tea.Model
func (m Model) View() string {
	var body string
	switch m.screen {
	case ScreenHome:
		body = m.homeView()
	case ScreenBrowse:
		body = headingText.Render("Pick a "+strings.Join(m.active.exts, " or ")+" file") + "\n\n" + m.browser.View()
	case ScreenRender:
		body = fmt.Sprintf("%s rendering %s with %s", m.spin.View(), filepath.Base(m.job.input), m.active.label)
	case ScreenDone:
		body = m.doneView()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		panel.Render(body),
		"",
		dimText.Render(footers[m.screen]),
	)
}

// header shows the settings every conversion uses
func (m Model) header() string {
	sf := filepath.Base(m.opts.SoundFont)
	if m.opts.SoundFont == "" {
		sf = failText.Render("no soundfont, pass --soundfont")
	}
	settings := fmt.Sprintf("%s · #%d %s", sf, m.opts.Instrument, converter.InstrumentName(m.opts.Instrument))
	return bannerStyle.Render("♪ mml2mp3") + statusBar.Render(settings)
}

func (m Model) homeView() string {
	var b strings.Builder
	b.WriteString(headingText.Render("What are you converting?"))
	b.WriteString("\n\n")
	for i, f := range flows {
		if i == m.cursor {
			fmt.Fprintf(&b, "%s  %s\n", cursorText.Render("› "+f.label), dimText.Render(f.blurb))
			continue
		}
		fmt.Fprintf(&b, "  %s\n", f.label)
	}
	if m.cursor == quitRow {
		b.WriteString(cursorText.Render("› quit"))
	} else {
		b.WriteString(dimText.Render("  quit"))
	}
	return b.String()
}

func (m Model) doneView() string {
	if m.err != nil {
		stage := converter.StageOf(m.err)
		if stage == converter.StageNone {
			return failText.Render("✗ "+m.err.Error()) + "\n\n" + dimText.Render(filepath.Base(m.job.input))
		}
		return failText.Render(fmt.Sprintf("✗ %s failed during %s", filepath.Base(m.job.input), stage)) +
			"\n\n" + m.err.Error()
	}

	lines := []string{
		cursorText.Render("✓ wrote " + filepath.Base(m.job.output)),
		"",
		dimText.Render("from   ") + filepath.Base(m.job.input),
	}
	if m.report != nil {
		lines = append(lines,
			dimText.Render("length ")+m.report.Audio.Round(10*time.Millisecond).String(),
			dimText.Render("size   ")+fmt.Sprintf("%d bytes", m.report.OutputBytes),
			dimText.Render("took   ")+m.report.Elapsed.Round(time.Millisecond).String(),
		)
	}
	return strings.Join(lines, "\n")
}

// Run starts the TUI on the alternate screen
func Run(opts Options) error {
	_, err := tea.NewProgram(New(opts), tea.WithAltScreen()).Run()
	return err
}
