package usecase

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deepchat/internal/domain"
)

// maxToolCallEntries bounds the sparse accumulator so a hostile stream
// cannot grow it without limit via large index values.
const maxToolCallEntries = 64

// toolCallAccumulator reassembles complete tool calls from the
// fragmented deltas a streaming completion emits. Fragments are keyed
// by their explicit index field, not by arrival order, so interleaved
// fragments for several parallel calls land in the right entry.
type toolCallAccumulator struct {
	entries []*toolCallEntry
	nextGen int
}

type toolCallEntry struct {
	id        string
	generated bool
	name      string
	args      strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{}
}

// add merges one fragment into the entry at its index, creating the
// entry on first sight. A missing id gets a locally generated one; a
// real id arriving later replaces it. The name is set once and never
// overwritten; argument text is concatenated in arrival order.
func (a *toolCallAccumulator) add(frag domain.ToolCallDelta) {
	if frag.Index < 0 || frag.Index >= maxToolCallEntries {
		return
	}
	for len(a.entries) <= frag.Index {
		a.entries = append(a.entries, nil)
	}
	entry := a.entries[frag.Index]
	if entry == nil {
		entry = &toolCallEntry{}
		if frag.ID != "" {
			entry.id = frag.ID
		} else {
			entry.id = fmt.Sprintf("call_gen_%d", a.nextGen)
			entry.generated = true
			a.nextGen++
		}
		a.entries[frag.Index] = entry
	} else if frag.ID != "" && entry.generated {
		entry.id = frag.ID
		entry.generated = false
	}
	if entry.name == "" && frag.Name != "" {
		entry.name = frag.Name
	}
	entry.args.WriteString(frag.Arguments)
}

func (a *toolCallAccumulator) count() int {
	n := 0
	for _, e := range a.entries {
		if e != nil {
			n++
		}
	}
	return n
}

// finalize converts the accumulated entries into complete tool calls,
// in index order, skipping holes. Argument text that is empty or not
// valid JSON yields an empty parameter map rather than an error; the
// executing tool reports the real problem against its schema.
func (a *toolCallAccumulator) finalize() []domain.ToolCall {
	calls := make([]domain.ToolCall, 0, len(a.entries))
	for _, e := range a.entries {
		if e == nil {
			continue
		}
		params := map[string]any{}
		if raw := e.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &params); err != nil {
				params = map[string]any{}
			}
		}
		calls = append(calls, domain.ToolCall{
			ID:         e.id,
			Name:       e.name,
			Parameters: params,
			Timestamp:  time.Now().UTC(),
		})
	}
	return calls
}
