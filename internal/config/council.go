package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roundtablehq/roundtable-backend/internal/domain/council"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

const councilConfigEnv = "COUNCIL_CONFIG_YAML"

//go:embed council.yaml
var councilConfigFS embed.FS

// StageConfig is the sampling envelope for one pipeline stage. A session
// snapshots its preset's three stage configs at admission and never re-reads
// them afterwards.
type StageConfig struct {
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

type Preset struct {
	Stage1 StageConfig `yaml:"stage1" json:"stage1"`
	Stage2 StageConfig `yaml:"stage2" json:"stage2"`
	Stage3 StageConfig `yaml:"stage3" json:"stage3"`
}

func (p Preset) ForStage(stage int) StageConfig {
	switch stage {
	case council.StageReview:
		return p.Stage2
	case council.StageSynthesis:
		return p.Stage3
	default:
		return p.Stage1
	}
}

// ModelPrice is cents per 1K tokens on the routing endpoint's price sheet.
type ModelPrice struct {
	InputCentsPer1K  float64 `yaml:"input" json:"input"`
	OutputCentsPer1K float64 `yaml:"output" json:"output"`
}

type Council struct {
	Presets        map[string]Preset
	Panels         map[council.Role]int
	DefaultChains  map[council.Role][]string
	Prices         map[string]ModelPrice
	StageDeadlines map[int]time.Duration
}

func (c *Council) Preset(name string) (Preset, bool) {
	p, ok := c.Presets[strings.TrimSpace(strings.ToLower(name))]
	return p, ok
}

func (c *Council) PanelSize(role council.Role) int {
	if n, ok := c.Panels[role]; ok && n > 0 {
		return n
	}
	return 1
}

func (c *Council) DefaultChain(role council.Role) []string {
	return c.DefaultChains[role]
}

func (c *Council) StageDeadline(stage int) time.Duration {
	if d, ok := c.StageDeadlines[stage]; ok && d > 0 {
		return d
	}
	return 90 * time.Second
}

func (c *Council) PriceFor(modelID string) (ModelPrice, bool) {
	p, ok := c.Prices[modelID]
	return p, ok
}

type yamlCouncil struct {
	Council  string                `yaml:"council"`
	Version  int                   `yaml:"version"`
	Presets  map[string]Preset     `yaml:"presets"`
	Panels   map[string]int        `yaml:"panels"`
	Chains   map[string][]string   `yaml:"default_chains"`
	Prices   map[string]ModelPrice `yaml:"model_prices_per_1k"`
	Deadline map[string]string     `yaml:"stage_deadlines"`
}

var (
	councilOnce  sync.Once
	councilCache *Council
	councilErr   error
)

// LoadCouncil returns the council document, preferring the file named by
// COUNCIL_CONFIG_YAML over the embedded copy and falling back to compiled
// defaults when neither parses.
func LoadCouncil(log *logger.Logger) *Council {
	councilOnce.Do(func() {
		councilCache, councilErr = loadCouncil()
	})
	if councilErr != nil {
		if log != nil {
			log.Warn("council config load failed; using compiled defaults", "error", councilErr)
		}
		return fallbackCouncil()
	}
	return councilCache
}

func loadCouncil() (*Council, error) {
	data, err := readCouncilConfig()
	if err != nil {
		return nil, err
	}
	return parseCouncil(data)
}

func readCouncilConfig() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(councilConfigEnv)); path != "" {
		return os.ReadFile(path)
	}
	return councilConfigFS.ReadFile("council.yaml")
}

func parseCouncil(data []byte) (*Council, error) {
	var raw yamlCouncil
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := validateCouncil(&raw); err != nil {
		return nil, err
	}

	out := &Council{
		Presets:        make(map[string]Preset, len(raw.Presets)),
		Panels:         make(map[council.Role]int, len(raw.Panels)),
		DefaultChains:  make(map[council.Role][]string, len(raw.Chains)),
		Prices:         raw.Prices,
		StageDeadlines: make(map[int]time.Duration, len(raw.Deadline)),
	}
	for name, preset := range raw.Presets {
		out.Presets[strings.ToLower(strings.TrimSpace(name))] = preset
	}
	for roleName, size := range raw.Panels {
		role, ok := council.ParseRole(roleName)
		if !ok {
			return nil, fmt.Errorf("panels: unknown role %q", roleName)
		}
		out.Panels[role] = size
	}
	for roleName, chain := range raw.Chains {
		role, ok := council.ParseRole(roleName)
		if !ok {
			return nil, fmt.Errorf("default_chains: unknown role %q", roleName)
		}
		out.DefaultChains[role] = chain
	}
	for stageName, rawDur := range raw.Deadline {
		stage, ok := stageKey(stageName)
		if !ok {
			return nil, fmt.Errorf("stage_deadlines: unknown stage %q", stageName)
		}
		d, err := time.ParseDuration(strings.TrimSpace(rawDur))
		if err != nil {
			return nil, fmt.Errorf("stage_deadlines: %s: %w", stageName, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("stage_deadlines: %s: non-positive", stageName)
		}
		out.StageDeadlines[stage] = d
	}
	return out, nil
}

func stageKey(name string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "stage1":
		return council.StageDeliberation, true
	case "stage2":
		return council.StageReview, true
	case "stage3":
		return council.StageSynthesis, true
	default:
		return 0, false
	}
}

func validateCouncil(raw *yamlCouncil) error {
	if raw == nil {
		return errors.New("missing council config")
	}
	if strings.TrimSpace(raw.Council) != "roundtable" {
		return fmt.Errorf("unexpected council document: %q", raw.Council)
	}
	if len(raw.Presets) == 0 {
		return errors.New("no presets defined")
	}
	for name, preset := range raw.Presets {
		for stage, sc := range map[string]StageConfig{"stage1": preset.Stage1, "stage2": preset.Stage2, "stage3": preset.Stage3} {
			if sc.Temperature < 0 || sc.Temperature > 1 {
				return fmt.Errorf("preset %s %s: temperature %v out of [0,1]", name, stage, sc.Temperature)
			}
			if sc.MaxTokens <= 0 {
				return fmt.Errorf("preset %s %s: max_tokens must be positive", name, stage)
			}
		}
	}
	for roleName, size := range raw.Panels {
		if size <= 0 {
			return fmt.Errorf("panels: %s: size must be positive", roleName)
		}
	}
	for roleName, chain := range raw.Chains {
		seen := map[string]bool{}
		for _, modelID := range chain {
			modelID = strings.TrimSpace(modelID)
			if modelID == "" {
				return fmt.Errorf("default_chains: %s: empty model id", roleName)
			}
			if seen[modelID] {
				return fmt.Errorf("default_chains: %s: duplicate model %s", roleName, modelID)
			}
			seen[modelID] = true
		}
	}
	for modelID, price := range raw.Prices {
		if price.InputCentsPer1K < 0 || price.OutputCentsPer1K < 0 {
			return fmt.Errorf("model_prices_per_1k: %s: negative price", modelID)
		}
	}
	return nil
}

// fallbackCouncil keeps the service operable when the YAML is missing or
// invalid. The chains here mirror the embedded document.
func fallbackCouncil() *Council {
	return &Council{
		Presets: map[string]Preset{
			"balanced": {
				Stage1: StageConfig{Temperature: 0.7, MaxTokens: 1536},
				Stage2: StageConfig{Temperature: 0.2, MaxTokens: 768},
				Stage3: StageConfig{Temperature: 0.5, MaxTokens: 2048},
			},
		},
		Panels: map[council.Role]int{
			council.RolePrimaryDeliberator: 5,
			council.RoleReviewer:           3,
			council.RoleChairman:           1,
		},
		DefaultChains: map[council.Role][]string{
			council.RolePrimaryDeliberator: {"openai/gpt-4o", "anthropic/claude-3-5-sonnet", "google/gemini-1.5-pro"},
			council.RoleReviewer:           {"anthropic/claude-3-5-haiku", "openai/gpt-4o-mini", "mistralai/mistral-small"},
			council.RoleChairman:           {"anthropic/claude-3-5-sonnet", "openai/gpt-4o"},
		},
		Prices: map[string]ModelPrice{},
		StageDeadlines: map[int]time.Duration{
			council.StageDeliberation: 90 * time.Second,
			council.StageReview:       60 * time.Second,
			council.StageSynthesis:    120 * time.Second,
		},
	}
}
