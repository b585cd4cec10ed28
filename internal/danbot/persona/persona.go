// Package persona loads the bot's persona file: the system prompt, model
// names, context-window limits and the keyword lists that drive memory
// capture. The file is YAML, validated on load; every field has a default
// so a missing file still yields a working coach.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona is the operator-authored personality and tuning of the bot.
type Persona struct {
	// Name is the assistant's display name, used in the greeting line.
	Name string `yaml:"name"`
	// SystemPrompt is the fixed instruction block of every context payload.
	SystemPrompt string `yaml:"system_prompt"`
	// Greeting is the short line prefixed to the first reply of a day.
	Greeting string `yaml:"greeting"`

	// TextModel and VisionModel select the model per message kind.
	TextModel   string `yaml:"text_model"`
	VisionModel string `yaml:"vision_model"`

	// HistoryWindow, NotesLimit and FactsLimit bound the context sections.
	HistoryWindow int `yaml:"history_window"`
	NotesLimit    int `yaml:"notes_limit"`
	FactsLimit    int `yaml:"facts_limit"`

	Triggers Triggers `yaml:"triggers"`
}

// Triggers are the message prefixes and keywords the capture detector
// matches.
type Triggers struct {
	Remember     []string `yaml:"remember"`
	Forget       []string `yaml:"forget"`
	Note         []string `yaml:"note"`
	NoteKeywords []string `yaml:"note_keywords"`
}

// Default returns the built-in persona: DAN, the Romanian personal coach.
func Default() *Persona {
	return &Persona{
		Name: "DAN",
		SystemPrompt: "Esti DAN, coach personal. Stil: natural, cald dar disciplinat. " +
			"Fara bucle, fara saluturi repetitive, fara sa repeti mereu aceleasi intrebari. " +
			"Ceri clarificari doar cand e absolut necesar. " +
			"Prioritati: sanatate pe termen lung, familie, calm, sala sigur (fara accidentari), " +
			"postura buna (birou/laptop), alimentatie echilibrata. " +
			"Cand utilizatorul trimite mancare/bonuri/produse: identifici ce se vede si dai " +
			"recomandari concrete, scurte, utile. " +
			"Raspunzi in romana, de preferat fara diacritice.",
		Greeting:      "Salut! Spune-mi ce ai facut azi (mancare, sala, starea corpului) sau trimite o poza.",
		TextModel:     "gpt-4.1-mini",
		VisionModel:   "gpt-4.1-mini",
		HistoryWindow: 20,
		NotesLimit:    10,
		FactsLimit:    30,
		Triggers: Triggers{
			Remember: []string{"retine:", "tine minte:"},
			Forget:   []string{"uita:"},
			Note:     []string{"noteaza:"},
			NoteKeywords: []string{
				"kg", "sala", "am mancat", "cantar",
				"mic dejun", "pranz", "cina", "bere", "vin", "iqos",
			},
		},
	}
}

// Load reads and parses the persona file at path. An empty path returns the
// default persona.
func Load(path string) (*Persona, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a persona YAML document on top of the defaults and
// validates it.
func Parse(data []byte) (*Persona, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("persona: parse: %w", err)
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks a persona for structural correctness.
func Validate(p *Persona) error {
	if p == nil {
		return fmt.Errorf("persona: must not be nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("persona: name must not be empty")
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return fmt.Errorf("persona: system_prompt must not be empty")
	}
	if strings.TrimSpace(p.TextModel) == "" {
		return fmt.Errorf("persona: text_model must not be empty")
	}
	if strings.TrimSpace(p.VisionModel) == "" {
		return fmt.Errorf("persona: vision_model must not be empty")
	}
	if p.HistoryWindow < 0 || p.NotesLimit < 0 || p.FactsLimit < 0 {
		return fmt.Errorf("persona: window limits must not be negative")
	}
	for i, prefix := range append(append(append([]string{},
		p.Triggers.Remember...), p.Triggers.Forget...), p.Triggers.Note...) {
		if strings.TrimSpace(prefix) == "" {
			return fmt.Errorf("persona: triggers[%d]: empty prefix", i)
		}
	}
	return nil
}
