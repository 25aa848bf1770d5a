package tiebreak

import (
	"errors"
	"fmt"
)

// Phase selects a criteria chain.
type Phase string

// Phases.
const (
	PhaseRegular Phase = "regular"
	PhasePlayoff Phase = "playoff"
)

// Criterion names one tie-break rule.
type Criterion string

// Criteria.
const (
	ReserveTotal     Criterion = "reserveTotal"
	KeyPlayer        Criterion = "keyPlayer"
	HeadToHead       Criterion = "headToHead"
	AdvancedMetrics  Criterion = "advancedMetrics"
	VirtualExtension Criterion = "virtualExtension"
	SuddenDeath      Criterion = "suddenDeath"
	SeededDraw       Criterion = "seededDraw"
)

var known = map[Criterion]bool{
	ReserveTotal: true, KeyPlayer: true, HeadToHead: true, AdvancedMetrics: true,
	VirtualExtension: true, SuddenDeath: true, SeededDraw: true,
}

// Sentinel kinds for tie-break errors.
var (
	ErrUnknownCriterion = errors.New("unknown tie-break criterion")
	ErrUnknownPhase     = errors.New("unknown tie-break phase")
	ErrInvalidRequest   = errors.New("invalid tie-break request")
)

// Config is a league's tie-break policy.
type Config struct {
	LeagueID          string                `json:"league_id" yaml:"league_id" koanf:"league_id"`
	Phases            map[Phase][]Criterion `json:"phases" yaml:"phases" koanf:"phases"`
	ExtensionMinutes  int                   `json:"extension_minutes" yaml:"extension_minutes" koanf:"extension_minutes"`
	RegulationMinutes int                   `json:"regulation_minutes" yaml:"regulation_minutes" koanf:"regulation_minutes"`
	SuddenDeathTiers  int                   `json:"sudden_death_tiers" yaml:"sudden_death_tiers" koanf:"sudden_death_tiers"`
}

// DefaultConfig returns the chains used when a league configures none.
func DefaultConfig() Config {
	return Config{
		Phases: map[Phase][]Criterion{
			PhaseRegular: {ReserveTotal, KeyPlayer, HeadToHead, AdvancedMetrics, SeededDraw},
			PhasePlayoff: {VirtualExtension, SuddenDeath, SeededDraw},
		},
		ExtensionMinutes:  30,
		RegulationMinutes: 90,
		SuddenDeathTiers:  3,
	}
}

// Validate checks every criterion name and fills zero numeric fields.
func (c *Config) Validate() error {
	d := DefaultConfig()
	if len(c.Phases) == 0 {
		c.Phases = d.Phases
	}
	for phase, chain := range c.Phases {
		for _, cr := range chain {
			if !known[cr] {
				return fmt.Errorf("%w: %q in phase %s", ErrUnknownCriterion, cr, phase)
			}
		}
	}
	if c.ExtensionMinutes <= 0 {
		c.ExtensionMinutes = d.ExtensionMinutes
	}
	if c.RegulationMinutes <= 0 {
		c.RegulationMinutes = d.RegulationMinutes
	}
	if c.SuddenDeathTiers <= 0 {
		c.SuddenDeathTiers = d.SuddenDeathTiers
	}
	return nil
}

// chain returns the criteria for phase with a seeded draw appended when missing.
func (c Config) chain(phase Phase) ([]Criterion, error) {
	list, ok := c.Phases[phase]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPhase, phase)
	}
	out := append([]Criterion(nil), list...)
	for _, cr := range out {
		if cr == SeededDraw {
			return out, nil
		}
	}
	return append(out, SeededDraw), nil
}
