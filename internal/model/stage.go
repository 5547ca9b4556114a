// Package model defines the core domain types for the sales pipeline:
// deals, stages, and the activity log entries recorded on stage transitions.
package model

// Stage is one step of the sales pipeline. Stages are read-mostly: created
// and edited by admin tooling, then treated as stable for the lifetime of a
// board session.
type Stage struct {
	ID                 string `json:"id" yaml:"id"`
	Name               string `json:"name" yaml:"name"`
	Color              string `json:"color" yaml:"color"`
	DefaultProbability int    `json:"default_probability" yaml:"default_probability"`
	Position           int    `json:"position" yaml:"position"`
	Won                bool   `json:"won,omitempty" yaml:"won,omitempty"`
}

// DefaultStages is the pipeline seeded when no stage seed file is given.
var DefaultStages = []Stage{
	{ID: "lead", Name: "Lead", Color: "#94a3b8", DefaultProbability: 10, Position: 0},
	{ID: "qualified", Name: "Qualified", Color: "#60a5fa", DefaultProbability: 25, Position: 1},
	{ID: "proposal", Name: "Proposal", Color: "#fbbf24", DefaultProbability: 50, Position: 2},
	{ID: "negotiation", Name: "Negotiation", Color: "#f97316", DefaultProbability: 75, Position: 3},
	{ID: "won", Name: "Won", Color: "#4ade80", DefaultProbability: 100, Position: 4, Won: true},
}
