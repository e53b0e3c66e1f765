// Package ranking computes skill adjustments for combat events. The model is
// ELO-style: gains scale with the skill gap between the parties, weighted by
// the weapon used.
package ranking

import (
	"math"
	"strings"
)

const (
	baseGain = 10.0
	minGain  = 1
	maxGain  = 50

	headshotBonus   = 0.25
	victimLossRatio = 0.75

	suicidePenalty  = -5
	teamkillPenalty = -10
)

// weaponModifiers reward kills with harder weapons. Unlisted weapons use 1.0.
var weaponModifiers = map[string]float64{
	"knife":      2.0,
	"hegrenade":  1.8,
	"grenade":    1.8,
	"glock":      1.4,
	"usp":        1.2,
	"deagle":     1.1,
	"scout":      1.2,
	"awp":        0.8,
	"m249":       0.9,
	"crowbar":    2.0,
	"gauss":      1.0,
	"egon":       0.9,
	"crossbow":   1.3,
	"rpg_rocket": 0.9,
}

// KillContext carries the event details that influence the adjustment.
type KillContext struct {
	Weapon     string
	Headshot   bool
	KillerTeam string
	VictimTeam string
}

// Adjustment is the skill delta pair for one kill. VictimChange is negative
// or zero.
type Adjustment struct {
	KillerChange int
	VictimChange int
}

// Service is stateless; a single value is shared by all handlers.
type Service struct{}

// New returns a ranking service.
func New() *Service { return &Service{} }

// CalculateSkillAdjustment returns the skill deltas for a kill given both
// parties' current skill.
func (s *Service) CalculateSkillAdjustment(killerSkill, victimSkill float64, ctx KillContext) Adjustment {
	expected := 1.0 / (1.0 + math.Pow(10, (victimSkill-killerSkill)/-400.0))
	// expected is the probability the VICTIM would win; a kill against a
	// stronger victim pays more.
	gain := baseGain * expected * WeaponModifier(ctx.Weapon)
	if ctx.Headshot {
		gain += gain * headshotBonus
	}

	killerChange := int(math.Round(gain))
	if killerChange < minGain {
		killerChange = minGain
	}
	if killerChange > maxGain {
		killerChange = maxGain
	}

	victimChange := -int(math.Round(float64(killerChange) * victimLossRatio))
	return Adjustment{KillerChange: killerChange, VictimChange: victimChange}
}

// WeaponModifier returns the gain multiplier for a weapon code.
func WeaponModifier(weapon string) float64 {
	if m, ok := weaponModifiers[strings.ToLower(strings.TrimSpace(weapon))]; ok {
		return m
	}
	return 1.0
}

// SuicidePenalty is the skill delta applied to a player who kills themselves.
func (s *Service) SuicidePenalty() int { return suicidePenalty }

// TeamkillPenalty is the skill delta applied to a player who kills a teammate.
func (s *Service) TeamkillPenalty() int { return teamkillPenalty }

// KDRatio returns kills/deaths with the zero-deaths convention of treating
// deaths as 1.
func KDRatio(kills, deaths int) float64 {
	if deaths <= 0 {
		deaths = 1
	}
	return float64(kills) / float64(deaths)
}
