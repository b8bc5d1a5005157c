package strategy

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned by Run for a blank trip request.
	ErrEmptyInput = errors.New("trip request is empty")

	// ErrSessionUsed is returned when Run is called twice on one session.
	ErrSessionUsed = errors.New("session has already run")
)

// Stage names one node of the planning graph.
type Stage string

const (
	StageClarify  Stage = "clarify"
	StagePlan     Stage = "plan"
	StageExtract  Stage = "extract"
	StageSave     Stage = "save"
	StageEvaluate Stage = "evaluate"
	StageFinish   Stage = "finish"
)

// StageError is a run failure. Input is the user's original request so the
// caller can offer a retry.
type StageError struct {
	Stage Stage
	Input string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
