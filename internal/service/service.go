// Package service defines the small contract every actor in the core
// implements in place of the inheritance/mixin-style "service base" and
// "status reporter" the source system mixed into every process.
package service

import "context"

// Status is a point-in-time snapshot of an actor's operational state.
type Status struct {
	Name    string
	Running bool
	Detail  map[string]any
}

// Health reports whether an actor considers itself able to do useful work.
type Health struct {
	Healthy bool
	Reason  string
}

// Info carries slow-changing descriptive facts about an actor (config
// summary, version) distinct from the fast-changing Status/Health.
type Info struct {
	Name string
	Facts map[string]any
}

// Service is implemented directly by the Aggregator, the Correlation Engine
// and the Producer; the WebSocket Connection and the OAuth Token Manager do
// not implement it. There is deliberately no base struct to embed: each
// implementation owns its own mailbox and fields, per the single-writer
// discipline in §5.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
	GetStatus() Status
	GetHealth() Health
	GetInfo() Info
}
