package ranking

import (
	"math"
	"testing"
)

func TestCalculateSkillAdjustmentEqualSkill(t *testing.T) {
	s := New()

	adj := s.CalculateSkillAdjustment(1000, 1000, KillContext{Weapon: "ak47"})

	if adj.KillerChange != 5 {
		t.Errorf("KillerChange = %d, want 5 for equal skill", adj.KillerChange)
	}
	if adj.VictimChange != -4 {
		t.Errorf("VictimChange = %d, want -4", adj.VictimChange)
	}
}

func TestCalculateSkillAdjustmentUnderdog(t *testing.T) {
	s := New()

	weak := s.CalculateSkillAdjustment(800, 1600, KillContext{Weapon: "ak47"})
	strong := s.CalculateSkillAdjustment(1600, 800, KillContext{Weapon: "ak47"})

	if weak.KillerChange <= strong.KillerChange {
		t.Errorf("underdog gain %d should exceed favourite gain %d", weak.KillerChange, strong.KillerChange)
	}
	if strong.KillerChange < 1 {
		t.Errorf("KillerChange = %d, want at least 1", strong.KillerChange)
	}
}

func TestCalculateSkillAdjustmentBounds(t *testing.T) {
	s := New()

	testCases := []struct {
		name        string
		killerSkill float64
		victimSkill float64
		ctx         KillContext
	}{
		{"huge gap up", 0, 5000, KillContext{Weapon: "knife", Headshot: true}},
		{"huge gap down", 5000, 0, KillContext{Weapon: "awp"}},
		{"zero skill both", 0, 0, KillContext{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			adj := s.CalculateSkillAdjustment(tc.killerSkill, tc.victimSkill, tc.ctx)
			if adj.KillerChange < 1 || adj.KillerChange > 50 {
				t.Errorf("KillerChange = %d, want within [1, 50]", adj.KillerChange)
			}
			if adj.VictimChange > 0 {
				t.Errorf("VictimChange = %d, want <= 0", adj.VictimChange)
			}
		})
	}
}

func TestHeadshotBonus(t *testing.T) {
	s := New()

	plain := s.CalculateSkillAdjustment(1000, 1200, KillContext{Weapon: "deagle"})
	headshot := s.CalculateSkillAdjustment(1000, 1200, KillContext{Weapon: "deagle", Headshot: true})

	if headshot.KillerChange <= plain.KillerChange {
		t.Errorf("headshot gain %d should exceed plain gain %d", headshot.KillerChange, plain.KillerChange)
	}
}

func TestWeaponModifier(t *testing.T) {
	testCases := []struct {
		weapon string
		want   float64
	}{
		{"knife", 2.0},
		{"KNIFE", 2.0},
		{" awp ", 0.8},
		{"ak47", 1.0},
		{"", 1.0},
	}

	for _, tc := range testCases {
		t.Run(tc.weapon, func(t *testing.T) {
			if got := WeaponModifier(tc.weapon); got != tc.want {
				t.Errorf("WeaponModifier(%q) = %v, want %v", tc.weapon, got, tc.want)
			}
		})
	}
}

func TestPenalties(t *testing.T) {
	s := New()

	if got := s.SuicidePenalty(); got != -5 {
		t.Errorf("SuicidePenalty() = %d, want -5", got)
	}
	if got := s.TeamkillPenalty(); got != -10 {
		t.Errorf("TeamkillPenalty() = %d, want -10", got)
	}
}

func TestKDRatio(t *testing.T) {
	testCases := []struct {
		name   string
		kills  int
		deaths int
		want   float64
	}{
		{"normal", 10, 4, 2.5},
		{"zero deaths", 7, 0, 7.0},
		{"zero kills", 0, 5, 0.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := KDRatio(tc.kills, tc.deaths)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("KDRatio(%d, %d) = %v, want %v", tc.kills, tc.deaths, got, tc.want)
			}
		})
	}
}
