// Package pipeline drives one ingestion request from raw input to extracted text.
//
// The run is an explicit state machine: Next is a pure function of the current state and the
// ContentState, and the Orchestrator executes the action attached to each state.
package pipeline

import (
	"fmt"

	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/models"
)

// State is a pipeline stage.
type State int

const (
	StateStart State = iota
	StateResolve
	StateRouteFile
	StateRouteURL
	StateExtract
	StateCleanup
	StateDone
)

var stateNames = map[State]string{
	StateStart:     "start",
	StateResolve:   "resolve",
	StateRouteFile: "route_file",
	StateRouteURL:  "route_url",
	StateExtract:   "extract",
	StateCleanup:   "cleanup",
	StateDone:      "done",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Next returns the state that follows s. It reads cs but never modifies it.
func Next(s State, cs *models.ContentState) (State, error) {
	switch s {
	case StateStart:
		return StateResolve, nil
	case StateResolve:
		switch cs.SourceType {
		case models.SourceTypeText:
			return StateDone, nil
		case models.SourceTypeFile:
			return StateRouteFile, nil
		case models.SourceTypeURL:
			return StateRouteURL, nil
		}
		return StateDone, models.NewInvalidInput(fmt.Sprintf("unknown source type %q", cs.SourceType))
	case StateRouteFile, StateRouteURL:
		if _, err := extract.Route(cs.IdentifiedType); err != nil {
			return StateDone, err
		}
		return StateExtract, nil
	case StateExtract:
		name, err := extract.Route(cs.IdentifiedType)
		if err != nil {
			return StateDone, err
		}
		if extract.DeletesSource(name) {
			return StateCleanup, nil
		}
		return StateDone, nil
	case StateCleanup, StateDone:
		return StateDone, nil
	}
	return StateDone, fmt.Errorf("no transition from %s", s)
}
