package mab

import "metacortex/internal/types"

// ArmStore is an optional persistence plug for bandit state. When nil, the
// Converger runs entirely in memory.
type ArmStore interface {
	LoadArms() (map[string]*types.DecisionArm, error)
	SaveArm(arm *types.DecisionArm) error
	LoadGoldenTemplates() (map[string]*types.GoldenTemplate, error)
	SaveGoldenTemplate(tpl *types.GoldenTemplate) error
	DeleteGoldenTemplate(strategyID string) error
}
