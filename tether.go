// Package tether provides a minimal public API for embedding tether's
// plan and roadmap engines in custom orchestration.
//
// Most automation should use the tether CLI. This package exports only the
// essential types and constructors needed by Go programs that want to drive
// plan lifecycles or objective roadmaps programmatically.
package tether

import (
	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/plan"
	"github.com/tetherhq/tether/internal/roadmap"
	"github.com/tetherhq/tether/internal/store"
)

// Core types for working with plans and objectives.
type (
	Config   = config.Config
	Store    = store.Store
	Issue    = store.Issue
	Phase    = plan.Phase
	Header   = plan.Header
	Machine  = plan.Machine
	Roadmap  = roadmap.Roadmap
	Evidence = roadmap.Evidence
	Engine   = roadmap.Engine
)

// Plan lifecycle phases.
const (
	PhaseCreated        = plan.PhaseCreated
	PhaseSubmitted      = plan.PhaseSubmitted
	PhaseDispatched     = plan.PhaseDispatched
	PhaseImplementing   = plan.PhaseImplementing
	PhaseReadyForReview = plan.PhaseReadyForReview
	PhaseMerged         = plan.PhaseMerged
	PhaseClosed         = plan.PhaseClosed
)

// NewGitHubStore opens a GitHub-backed issue store.
func NewGitHubStore(token, owner, repo string) *store.GitHub {
	return store.NewGitHub(token, owner, repo)
}

// NewMachine builds a plan lifecycle machine on top of a store.
func NewMachine(st Store, cfg *Config) *Machine {
	return plan.NewMachine(st, cfg)
}

// NewEngine builds a roadmap engine on top of a store.
func NewEngine(st Store, cfg *Config) *Engine {
	return roadmap.NewEngine(st, cfg.ChunkMargin)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}
