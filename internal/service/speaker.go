package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/agent"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/groupchat"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/completion"
)

// speaker is a participant resolved to the configuration it runs with.
type speaker struct {
	participant  groupchat.Participant
	agent        *agent.Agent
	version      *agent.Version
	name         string
	systemPrompt string
	model        string
	temperature  *float64
}

// selectionState is what a selector sees before each round.
type selectionState struct {
	speakers    []*speaker
	transcript  []groupchat.Turn
	last        int // index of the previous speaker, -1 before the first turn
	turns       []int
	allowRepeat bool
}

func newSelectionState(speakers []*speaker, transcript []groupchat.Turn, allowRepeat bool) *selectionState {
	return &selectionState{
		speakers:    speakers,
		transcript:  transcript,
		last:        -1,
		turns:       make([]int, len(speakers)),
		allowRepeat: allowRepeat,
	}
}

// eligible reports whether speaker i may take the next turn.
func (st *selectionState) eligible(i int) bool {
	if limit := st.speakers[i].participant.MaxTurns(); limit > 0 && st.turns[i] >= limit {
		return false
	}
	return st.allowRepeat || i != st.last
}

// candidates returns the eligible speaker indices in speaking order.
func (st *selectionState) candidates() []int {
	var out []int
	for i := range st.speakers {
		if st.eligible(i) {
			out = append(out, i)
		}
	}
	return out
}

// record notes that speaker i produced turn.
func (st *selectionState) record(i int, turn groupchat.Turn) {
	st.transcript = append(st.transcript, turn)
	st.last = i
	st.turns[i]++
}

// speakerSelector proposes the next speaker each round. It returns -1 when
// no participant may speak.
type speakerSelector interface {
	next(ctx context.Context, st *selectionState) (int, error)
}

func newSpeakerSelector(strategy groupchat.Strategy, provider completion.Provider, model string) (speakerSelector, error) {
	switch strategy {
	case groupchat.StrategyRoundRobin:
		return &roundRobinSelector{}, nil
	case groupchat.StrategySelector:
		return &modelSelector{provider: provider, model: model}, nil
	case groupchat.StrategySwarm:
		return &swarmSelector{}, nil
	}
	return nil, fmt.Errorf("%w: unsupported selection strategy %q", domain.ErrConfiguration, strategy)
}

// roundRobinSelector cycles through the speaking order, skipping speakers
// that are capped or would follow themselves.
type roundRobinSelector struct {
	cursor int
}

func (r *roundRobinSelector) next(_ context.Context, st *selectionState) (int, error) {
	n := len(st.speakers)
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % n
		if st.eligible(idx) {
			r.cursor = idx + 1
			return idx, nil
		}
	}
	return -1, nil
}

// modelSelector asks the completion provider to name the next speaker.
// Unrecognised answers fall back to the first candidate in speaking order.
type modelSelector struct {
	provider completion.Provider
	model    string
}

func (m *modelSelector) next(ctx context.Context, st *selectionState) (int, error) {
	cands := st.candidates()
	switch len(cands) {
	case 0:
		return -1, nil
	case 1:
		return cands[0], nil
	}

	names := make([]string, len(cands))
	for i, idx := range cands {
		names[i] = st.speakers[idx].name
	}
	resp, err := m.provider.Complete(ctx, completion.Request{
		Model:        m.model,
		SystemPrompt: selectorPrompt(st.speakers, names),
		Messages:     transcriptMessages(st.transcript, ""),
		MaxTokens:    32,
	})
	if err != nil {
		return -1, fmt.Errorf("%w: select speaker: %w", domain.ErrProvider, err)
	}
	if idx, ok := matchSpeaker(resp.Content, st.speakers, cands); ok {
		return idx, nil
	}
	return cands[0], nil
}

func selectorPrompt(speakers []*speaker, candidates []string) string {
	var b strings.Builder
	b.WriteString("You are coordinating a group conversation. The participants are:\n")
	for _, sp := range speakers {
		fmt.Fprintf(&b, "- %s: %s\n", sp.name, sp.agent.Description)
	}
	fmt.Fprintf(&b, "Read the conversation and select who speaks next from [%s]. Reply with the name only.",
		strings.Join(candidates, ", "))
	return b.String()
}

// matchSpeaker maps a free-text answer to a candidate: an exact name first,
// then the longest candidate name the answer mentions as a whole word. Equal
// lengths fall back to speaking order.
func matchSpeaker(answer string, speakers []*speaker, cands []int) (int, bool) {
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" {
		return -1, false
	}
	for _, idx := range cands {
		if strings.ToLower(speakers[idx].name) == answer {
			return idx, true
		}
	}
	best := -1
	for _, idx := range cands {
		name := strings.ToLower(speakers[idx].name)
		if !mentions(answer, name) {
			continue
		}
		if best < 0 || len(name) > len(speakers[best].name) {
			best = idx
		}
	}
	return best, best >= 0
}

// mentions reports whether name occurs in text with no letter, digit or
// underscore directly on either side.
func mentions(text, name string) bool {
	if name == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(text[from:], name)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(name)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		from = start + 1
	}
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// swarmSelector follows HANDOFF lines and otherwise passes the turn to the
// next participant in speaking order.
type swarmSelector struct{}

func (swarmSelector) next(_ context.Context, st *selectionState) (int, error) {
	n := len(st.speakers)
	if st.last < 0 {
		for i := 0; i < n; i++ {
			if st.eligible(i) {
				return i, nil
			}
		}
		return -1, nil
	}

	if target := parseHandoff(st.transcript[len(st.transcript)-1].Content); target != "" {
		for i, sp := range st.speakers {
			if strings.EqualFold(sp.name, target) && st.eligible(i) {
				return i, nil
			}
		}
	}
	for i := 1; i <= n; i++ {
		idx := (st.last + i) % n
		if st.eligible(idx) {
			return idx, nil
		}
	}
	return -1, nil
}

// parseHandoff returns the target of the first "HANDOFF: <name>" line.
func parseHandoff(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > len("HANDOFF:") && strings.EqualFold(line[:len("HANDOFF:")], "HANDOFF:") {
			return strings.TrimSpace(line[len("HANDOFF:"):])
		}
	}
	return ""
}

// orderedParticipants sorts by speaking order, unordered participants last,
// then by agent id.
func orderedParticipants(ps []groupchat.Participant) []groupchat.Participant {
	out := append([]groupchat.Participant(nil), ps...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].SpeakingOrder, out[j].SpeakingOrder
		switch {
		case a != nil && b != nil && *a != *b:
			return *a < *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// transcriptMessages renders the transcript for the model. Turns by self
// become assistant messages, all others user messages tagged with the
// speaker name.
func transcriptMessages(turns []groupchat.Turn, selfAgentID string) []completion.Message {
	out := make([]completion.Message, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if selfAgentID != "" && t.AgentID == selfAgentID {
			role = "assistant"
		}
		out = append(out, completion.Message{Role: role, Name: messageName(t.Speaker), Content: t.Content})
	}
	return out
}

// messageName reduces a display name to the characters providers accept
// in the message name field.
func messageName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() > 64 {
		return b.String()[:64]
	}
	return b.String()
}
