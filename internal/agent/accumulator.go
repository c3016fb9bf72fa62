package agent

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/deshartman/conversation-relay-flex-dialler/internal/llm"
)

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// toolCallAccumulator gathers streamed tool-call fragments. Calls are keyed
// by their identifier from the first fragment that carries one;
// continuation fragments arrive with only a stream index, which is mapped
// back to the owning call. Out-of-order and duplicate name fragments are
// tolerated.
type toolCallAccumulator struct {
	order    []string
	byKey    map[string]*pendingCall
	indexKey map[int]string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		byKey:    make(map[string]*pendingCall),
		indexKey: make(map[int]string),
	}
}

func (a *toolCallAccumulator) add(d llm.ToolCallDelta) {
	key := d.ID
	if key == "" {
		key = a.indexKey[d.Index]
	}
	if key == "" {
		key = fmt.Sprintf("index-%d", d.Index)
	}

	pc, ok := a.byKey[key]
	if !ok {
		// An identifier arriving after placeholder fragments for the same
		// index adopts the accumulated state.
		if d.ID != "" {
			if prev, had := a.byKey[a.indexKey[d.Index]]; had && prev.id == "" {
				delete(a.byKey, a.indexKey[d.Index])
				for i, k := range a.order {
					if k == a.indexKey[d.Index] {
						a.order[i] = key
					}
				}
				prev.id = d.ID
				a.byKey[key] = prev
				pc = prev
				ok = true
			}
		}
		if !ok {
			pc = &pendingCall{id: d.ID}
			a.byKey[key] = pc
			a.order = append(a.order, key)
		}
	}
	a.indexKey[d.Index] = key

	if d.Name != "" && pc.name == "" {
		pc.name = d.Name
	}
	if d.Arguments != "" {
		pc.args.WriteString(d.Arguments)
	}
}

func (a *toolCallAccumulator) empty() bool { return len(a.order) == 0 }

// calls returns the accumulated tool calls in first-seen order. Calls whose
// stream never carried an identifier get a generated one so transcript
// pairing stays intact.
func (a *toolCallAccumulator) calls() []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(a.order))
	for _, key := range a.order {
		pc := a.byKey[key]
		id := pc.id
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out = append(out, llm.ToolCall{
			ID:   id,
			Type: "function",
			Function: llm.FunctionCall{
				Name:      pc.name,
				Arguments: pc.args.String(),
			},
		})
	}
	return out
}
