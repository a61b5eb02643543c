package sim

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario seeds the simulator's world: the projects it serves, the canned
// voice exchanges it replays, and the preview script it acts out.
type Scenario struct {
	Projects []ScenarioProject `yaml:"projects"`
	Voice    VoiceScript       `yaml:"voice"`
	Preview  PreviewScript     `yaml:"preview"`
	// Script is an optional JavaScript hook file, resolved relative to the
	// scenario file when loaded from disk.
	Script string `yaml:"script"`
}

// ScenarioProject seeds one project and its file tree.
type ScenarioProject struct {
	ID    string            `yaml:"id"`
	Name  string            `yaml:"name"`
	Path  string            `yaml:"path"`
	Files map[string]string `yaml:"files"`
}

// VoiceScript lists canned exchanges replayed in order, one per utterance.
// When the list runs out the simulator falls back to a generic reply.
type VoiceScript struct {
	Exchanges []VoiceExchange `yaml:"exchanges"`
}

// VoiceExchange is one scripted turn of a voice conversation.
type VoiceExchange struct {
	Hear   string   `yaml:"hear"`   // transcription reported for the utterance
	Stages []string `yaml:"stages"` // progress stages emitted before the reply
	Reply  string   `yaml:"reply"`
}

// PreviewScript drives the preview lifecycle for every project.
type PreviewScript struct {
	URL    string              `yaml:"url"`
	Errors []ScriptedPrevError `yaml:"errors"`
}

// ScriptedPrevError emits one classified dev-server error after a preview
// has been running for AfterMs milliseconds.
type ScriptedPrevError struct {
	AfterMs   int    `yaml:"afterMs"`
	Message   string `yaml:"message"`
	ErrorType string `yaml:"errorType"`
}

const defaultPreviewURL = "http://localhost:5173"

// DefaultScenario returns the world served when no scenario file is given:
// one playground project and a plain echo/reply behavior everywhere else.
func DefaultScenario() Scenario {
	return Scenario{
		Projects: []ScenarioProject{
			{
				ID:   "proj-playground",
				Name: "playground",
				Path: "/srv/projects/playground",
				Files: map[string]string{
					"README.md":  "# playground\n\nScratch project served by trestle-sim.\n",
					"src/app.ts": "export const greeting = \"hello from trestle-sim\";\n",
				},
			},
		},
		Preview: PreviewScript{URL: defaultPreviewURL},
	}
}

// LoadScenario parses a scenario YAML file and normalises it.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("sim: read scenario %s: %w", path, err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("sim: parse scenario %s: %w", path, err)
	}

	if err := sc.normalize(); err != nil {
		return Scenario{}, fmt.Errorf("sim: scenario %s: %w", path, err)
	}

	// Hook scripts live next to the scenario that references them.
	if sc.Script != "" && !filepath.IsAbs(sc.Script) {
		sc.Script = filepath.Join(filepath.Dir(path), sc.Script)
	}

	return sc, nil
}

func (sc *Scenario) normalize() error {
	seen := make(map[string]struct{}, len(sc.Projects))
	for i := range sc.Projects {
		p := &sc.Projects[i]
		if strings.TrimSpace(p.Name) == "" && strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("project %d needs a name or id", i)
		}
		if strings.TrimSpace(p.ID) == "" {
			p.ID = "proj-" + slugify(p.Name)
		}
		if strings.TrimSpace(p.Name) == "" {
			p.Name = p.ID
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate project id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Files == nil {
			p.Files = make(map[string]string)
		}
	}

	if sc.Preview.URL == "" {
		sc.Preview.URL = defaultPreviewURL
	}
	for i, e := range sc.Preview.Errors {
		if e.AfterMs < 0 {
			return fmt.Errorf("preview error %d: afterMs must not be negative", i)
		}
		if sc.Preview.Errors[i].ErrorType == "" {
			sc.Preview.Errors[i].ErrorType = "runtime"
		}
	}

	return nil
}

// slugify turns a display name into an id fragment.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "project"
	}
	return b.String()
}
