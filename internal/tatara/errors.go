package tatara

import (
	"errors"
	"fmt"
)

// Step names one phase of a target's preparation lifecycle.
type Step string

const (
	StepFetch      Step = "fetch"
	StepExtract    Step = "extract"
	StepPatch      Step = "patch"
	StepConfigure  Step = "configure"
	StepCompile    Step = "compile"
	StepDownstream Step = "downstream build"
)

// StepError records which step of which target failed. Every step failure is
// fatal to the invocation; the pipeline stops at the first one and surfaces
// it to the CLI as an exit code plus this description.
type StepError struct {
	Target string
	Step   Step
	Err    error
}

func (e *StepError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", e.Target, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(target string, step Step, err error) *StepError {
	return &StepError{Target: target, Step: step, Err: err}
}

var (
	errTargetNotFound = errors.New("target not found")
	errCycle          = errors.New("dependency cycle detected")
)
