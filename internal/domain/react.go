package domain

import "time"

// StepKind discriminates the ReAct step variants.
type StepKind string

const (
	StepThought     StepKind = "thought"
	StepAction      StepKind = "action"
	StepObservation StepKind = "observation"
)

// Phase is the orchestrator's state machine phase.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseThinking  Phase = "thinking"
	PhaseActing    Phase = "acting"
	PhaseObserving Phase = "observing"
	PhaseComplete  Phase = "complete"
)

// Step is one entry in the ReAct step sequence.
type Step interface {
	StepID() string
	Kind() StepKind
}

// Thought is a reasoning step. LeadsTo records whether the reasoning burst
// ended in a direct response or a tool action.
type Thought struct {
	ID        string    `json:"id"`
	Type      StepKind  `json:"type"`
	Content   string    `json:"content"`
	Title     string    `json:"title,omitempty"`
	LeadsTo   string    `json:"leads_to,omitempty"` // "response" or "action"
	Timestamp time.Time `json:"timestamp"`
}

func (t *Thought) StepID() string { return t.ID }
func (t *Thought) Kind() StepKind { return StepThought }

// Action is a tool invocation step wrapping a complete, accumulated ToolCall.
type Action struct {
	ID        string    `json:"id"`
	Type      StepKind  `json:"type"`
	ToolCall  ToolCall  `json:"tool_call"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *Action) StepID() string { return a.ID }
func (a *Action) Kind() StepKind { return StepAction }

// Observation is the outcome of the immediately preceding action.
type Observation struct {
	ID        string    `json:"id"`
	Type      StepKind  `json:"type"`
	ActionID  string    `json:"action_id"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (o *Observation) StepID() string { return o.ID }
func (o *Observation) Kind() StepKind { return StepObservation }

// Cycle is a derived (Thought?, Action?, Observation?) grouping.
type Cycle struct {
	Thought     *Thought     `json:"thought,omitempty"`
	Action      *Action      `json:"action,omitempty"`
	Observation *Observation `json:"observation,omitempty"`
}

// Cycles partitions a step sequence into cycles: a new cycle begins at each
// Thought, accumulates the next Action and Observation if present, and closes
// on Observation. An unterminated trailing cycle is still emitted.
// Concatenating the steps of all cycles in order reproduces the sequence.
func Cycles(steps []Step) []Cycle {
	var cycles []Cycle
	var cur *Cycle

	open := func() *Cycle {
		cycles = append(cycles, Cycle{})
		return &cycles[len(cycles)-1]
	}

	for _, s := range steps {
		switch v := s.(type) {
		case *Thought:
			cur = open()
			cur.Thought = v
		case *Action:
			if cur == nil || cur.Action != nil || cur.Observation != nil {
				cur = open()
			}
			cur.Action = v
		case *Observation:
			if cur == nil || cur.Observation != nil {
				cur = open()
			}
			cur.Observation = v
			cur = nil // closed
		}
	}
	return cycles
}
