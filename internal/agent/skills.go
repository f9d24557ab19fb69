package agent

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultMaxTurns applies to skills that do not set their own budget.
const DefaultMaxTurns = 15

//go:embed skills.yaml
var skillsYAML []byte

// ErrUnknownSkill is returned for a skill name not in the catalogue.
var ErrUnknownSkill = errors.New("unknown skill")

// Skill is a named preset of guidance and tool selection.
type Skill struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	SystemPrompt string   `yaml:"system_prompt" json:"-"`
	Tools        []string `yaml:"tools" json:"tools"`
	MaxTurns     int      `yaml:"max_turns" json:"max_turns"`
}

var (
	skillsOnce sync.Once
	skills     []Skill
	skillsErr  error
)

func loadSkills() ([]Skill, error) {
	skillsOnce.Do(func() {
		skills, skillsErr = parseSkills(skillsYAML)
	})
	return skills, skillsErr
}

func parseSkills(data []byte) ([]Skill, error) {
	var parsed []Skill
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse skills: %w", err)
	}

	seen := make(map[string]bool, len(parsed))
	for i := range parsed {
		s := &parsed[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("skill %d has no name", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate skill %q", s.Name)
		}
		seen[s.Name] = true
		if s.MaxTurns <= 0 {
			s.MaxTurns = DefaultMaxTurns
		}
	}
	return parsed, nil
}

// ListSkills returns the catalogue in declaration order.
func ListSkills() ([]Skill, error) {
	all, err := loadSkills()
	if err != nil {
		return nil, err
	}
	return append([]Skill(nil), all...), nil
}

// GetSkill looks up a skill by name.
func GetSkill(name string) (Skill, error) {
	all, err := loadSkills()
	if err != nil {
		return Skill{}, err
	}
	for _, s := range all {
		if s.Name == name {
			return s, nil
		}
	}
	names := make([]string, 0, len(all))
	for _, s := range all {
		names = append(names, s.Name)
	}
	return Skill{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownSkill, name, strings.Join(names, ", "))
}
