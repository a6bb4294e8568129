package usecase

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"deepchat/internal/domain"
)

// defaultMaxIterations caps the number of observe transitions in one
// request before the orchestrator stops accepting further thoughts.
const defaultMaxIterations = 10

// StepCallback receives every recorded step synchronously, in record
// order. A coalesced thought is delivered again with its updated
// content. A non-nil error aborts the recording call that triggered it.
type StepCallback func(step domain.Step) error

// Orchestrator tracks the Thought/Action/Observation sequence of a
// single request as a small state machine. It is push-based: consumers
// register a callback at construction and never poll. One instance
// serves exactly one request and is not safe for concurrent use.
type Orchestrator struct {
	maxIterations int
	iteration     int
	phase         domain.Phase
	steps         []domain.Step
	onStep        StepCallback
	logger        *slog.Logger
}

// NewOrchestrator creates an orchestrator in the idle phase.
// maxIterations <= 0 selects the default of 10.
func NewOrchestrator(maxIterations int, onStep StepCallback, logger *slog.Logger) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	if onStep == nil {
		onStep = func(domain.Step) error { return nil }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		maxIterations: maxIterations,
		phase:         domain.PhaseIdle,
		onStep:        onStep,
		logger:        logger,
	}
}

// RecordThought appends a thought, or updates the previous one in
// place when it is the most recent step: reasoning arrives token by
// token and each burst must coalesce into a single step. The coalesced
// thought keeps its original id.
func (o *Orchestrator) RecordThought(content, title, leadsTo string) (*domain.Thought, error) {
	o.phase = domain.PhaseThinking
	if n := len(o.steps); n > 0 {
		if prev, ok := o.steps[n-1].(*domain.Thought); ok {
			prev.Content = content
			if title != "" {
				prev.Title = title
			}
			if leadsTo != "" {
				prev.LeadsTo = leadsTo
			}
			return prev, o.onStep(prev)
		}
	}
	thought := &domain.Thought{
		ID:        o.stepID(domain.StepThought, content),
		Type:      domain.StepThought,
		Content:   content,
		Title:     title,
		LeadsTo:   leadsTo,
		Timestamp: time.Now().UTC(),
	}
	o.steps = append(o.steps, thought)
	return thought, o.onStep(thought)
}

// RecordAction appends an action wrapping a completed tool call.
func (o *Orchestrator) RecordAction(call domain.ToolCall) (*domain.Action, error) {
	o.phase = domain.PhaseActing
	action := &domain.Action{
		ID:        o.stepID(domain.StepAction, call.ID+call.Name),
		Type:      domain.StepAction,
		ToolCall:  call,
		Timestamp: time.Now().UTC(),
	}
	o.steps = append(o.steps, action)
	return action, o.onStep(action)
}

// RecordObservation appends an observation for the given action and
// advances the iteration counter. Reaching the iteration ceiling moves
// the machine to the complete phase without error; later follow-up
// thoughts are silently dropped.
func (o *Orchestrator) RecordObservation(actionID string, result any, errMsg string) (*domain.Observation, error) {
	o.phase = domain.PhaseObserving
	obs := &domain.Observation{
		ID:        o.stepID(domain.StepObservation, actionID+errMsg),
		Type:      domain.StepObservation,
		ActionID:  actionID,
		Result:    result,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
	o.steps = append(o.steps, obs)
	err := o.onStep(obs)
	o.iteration++
	if o.iteration >= o.maxIterations {
		o.phase = domain.PhaseComplete
		o.logger.Warn("react iteration ceiling reached",
			"iterations", o.iteration,
			"max_iterations", o.maxIterations,
		)
	}
	return obs, err
}

// RecordFollowUpThought behaves as RecordThought unless the machine is
// already complete, in which case it records nothing.
func (o *Orchestrator) RecordFollowUpThought(content, title string) (*domain.Thought, error) {
	if o.phase == domain.PhaseComplete {
		return nil, nil
	}
	return o.RecordThought(content, title, "")
}

// Complete marks the request finished.
func (o *Orchestrator) Complete() {
	o.phase = domain.PhaseComplete
}

// Steps returns a copy of the recorded step sequence.
func (o *Orchestrator) Steps() []domain.Step {
	out := make([]domain.Step, len(o.steps))
	copy(out, o.steps)
	return out
}

// Cycles groups the recorded steps into Thought/Action/Observation
// cycles.
func (o *Orchestrator) Cycles() []domain.Cycle {
	return domain.Cycles(o.steps)
}

// Phase reports the current state-machine phase.
func (o *Orchestrator) Phase() domain.Phase { return o.phase }

// Iteration reports how many observations have been recorded.
func (o *Orchestrator) Iteration() int { return o.iteration }

// stepID derives a deterministic id from the step kind, its ordinal in
// the sequence and a content hash, so replaying identical input yields
// identical ids.
func (o *Orchestrator) stepID(kind domain.StepKind, content string) string {
	h := fnv.New32a()
	h.Write([]byte(content))
	return fmt.Sprintf("%s-%d-%08x", kind, len(o.steps), h.Sum32())
}
