package assembly

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pool is the full world/character/plot knowledge available to one work.
// The assembler never sends the whole pool anywhere; it carves a bounded
// ContextPack out of it per unit.
type Pool struct {
	Characters    []CharacterProfile `yaml:"characters"`
	Settings      []SettingProfile   `yaml:"settings"`
	PlotArcs      []PlotArc          `yaml:"plot_arcs"`
	Recap         string             `yaml:"recap"`
	Foreshadowing []Foreshadow       `yaml:"foreshadowing"`
}

type CharacterProfile struct {
	Name        string `yaml:"name"`
	Role        string `yaml:"role"`
	Description string `yaml:"description"`
	Arc         string `yaml:"arc"`
	Voice       string `yaml:"voice"`
}

type SettingProfile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Atmosphere  string `yaml:"atmosphere"`
}

type PlotArc struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Units       []int  `yaml:"units"`
}

// Foreshadow is a hint scheduled to be planted at one unit position and paid
// off at a later one.
type Foreshadow struct {
	ID       string `yaml:"id"`
	Hint     string `yaml:"hint"`
	PlantAt  int    `yaml:"plant_at"`
	PayoffAt int    `yaml:"payoff_at"`
}

// LoadPool reads a story-bible YAML file into a Pool.
func LoadPool(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge pool: %w", err)
	}

	var pool Pool
	if err := yaml.Unmarshal(data, &pool); err != nil {
		return nil, fmt.Errorf("parsing knowledge pool: %w", err)
	}
	return &pool, nil
}

// Character returns the profile for a name, matching case-insensitively.
func (p *Pool) Character(name string) (CharacterProfile, bool) {
	for _, c := range p.Characters {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return CharacterProfile{}, false
}

// Setting returns the profile for a location name.
func (p *Pool) Setting(name string) (SettingProfile, bool) {
	for _, s := range p.Settings {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return SettingProfile{}, false
}

// EntityNames lists every character and setting name in the pool.
func (p *Pool) EntityNames() []string {
	names := make([]string, 0, len(p.Characters)+len(p.Settings))
	for _, c := range p.Characters {
		names = append(names, c.Name)
	}
	for _, s := range p.Settings {
		names = append(names, s.Name)
	}
	return names
}
