package relay

import (
	"strings"

	"github.com/suPer8Hu/chat-relay/internal/ai"
)

const (
	OpenTag  = "<think>"
	CloseTag = "</think>"
)

type State int

const (
	StateIdle State = iota
	StateInReasoning
	StateInContent
	StateDone
	StateError
)

func (s State) String() string {
	return [...]string{"idle", "in_reasoning", "in_content", "done", "error"}[s]
}

func (s State) Terminal() bool { return s == StateDone || s == StateError }

// Multiplexer folds reasoning and content deltas into one text stream,
// wrapping the reasoning run in a single <think></think> pair. Everything it
// returns from Apply is also appended to the transcript, so the two always match.
type Multiplexer struct {
	state  State
	b      strings.Builder
	deltas int
}

func NewMultiplexer() *Multiplexer {
	return &Multiplexer{}
}

func (m *Multiplexer) State() State       { return m.state }
func (m *Multiplexer) Transcript() string { return m.b.String() }

// Deltas counts the non-empty reasoning and content deltas applied.
func (m *Multiplexer) Deltas() int { return m.deltas }

// Apply advances the state machine and returns the bytes to emit.
// Events after a terminal event are ignored.
func (m *Multiplexer) Apply(ev ai.Event) string {
	if m.state.Terminal() {
		return ""
	}

	var out string
	switch ev.Kind {
	case ai.EventReasoning:
		if ev.Text == "" {
			return ""
		}
		m.deltas++
		switch m.state {
		case StateIdle:
			out = OpenTag + ev.Text
			m.state = StateInReasoning
		default:
			// a second reasoning run after the answer began stays inline
			// so only one tag pair is ever emitted
			out = ev.Text
		}

	case ai.EventContent:
		if ev.Text == "" {
			return ""
		}
		m.deltas++
		if m.state == StateInReasoning {
			out = CloseTag + ev.Text
		} else {
			out = ev.Text
		}
		m.state = StateInContent

	case ai.EventTerminal:
		if m.state == StateInReasoning {
			out = CloseTag
		}
		if ev.Err != nil {
			m.state = StateError
		} else {
			m.state = StateDone
		}
	}

	m.b.WriteString(out)
	return out
}
