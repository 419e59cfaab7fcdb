// Package cog writes cloud-optimized GeoTIFFs, falling back to a tiled
// GeoTIFF with overviews that is then repacked when the single-pass driver
// is unavailable or fails.
package cog

import "fmt"

// State is a step of the write state machine.
type State int

const (
	NotStarted State = iota
	PrimaryAttempted
	FallbackWriting
	OverviewsBuilt
	Repacked
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case PrimaryAttempted:
		return "primary_attempted"
	case FallbackWriting:
		return "fallback_writing"
	case OverviewsBuilt:
		return "overviews_built"
	case Repacked:
		return "repacked"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON results.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	NotStarted:       {PrimaryAttempted},
	PrimaryAttempted: {Done, FallbackWriting},
	FallbackWriting:  {OverviewsBuilt, Failed},
	OverviewsBuilt:   {Repacked, Done},
	Repacked:         {Done},
}

// Transition is one recorded state change.
type Transition struct {
	From State `json:"from"`
	To   State `json:"to"`
}

type machine struct {
	state   State
	history []Transition
}

// to moves to next. An illegal transition is a programming error.
func (m *machine) to(next State) {
	for _, s := range transitions[m.state] {
		if s == next {
			m.history = append(m.history, Transition{From: m.state, To: next})
			m.state = next
			return
		}
	}
	panic(fmt.Sprintf("cog: illegal transition %v -> %v", m.state, next))
}
