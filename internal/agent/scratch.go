package agent

import (
	"time"

	"github.com/elea/athenaeum/internal/memory"
)

// DefaultTriggerMax is the importance budget spent before a reflection
// cycle fires.
const DefaultTriggerMax = 150

// Position is a location on the library floor.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Utterance is one (speaker, text) pair of a live conversation.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Scratch is the agent's mutable working state: where it is, what it is
// doing, whom it is talking to, and the reflection-trigger counters.
// Time fields serialize as RFC 3339.
type Scratch struct {
	Position Position `json:"position"`
	Activity string   `json:"activity"`
	Location string   `json:"location"`

	ChattingWith string      `json:"chatting_with,omitempty"`
	ChattingEnd  time.Time   `json:"chatting_end,omitempty"`
	Turns        []Utterance `json:"turns,omitempty"`

	TriggerMax  int `json:"importance_trigger_max"`
	TriggerCurr int `json:"importance_trigger_curr"`
	EleN        int `json:"importance_ele_n"`

	Weights memory.Weights `json:"weights"`
}

// NewScratch creates scratch state with a full importance budget and
// default retrieval weights.
func NewScratch(triggerMax int) *Scratch {
	if triggerMax <= 0 {
		triggerMax = DefaultTriggerMax
	}
	return &Scratch{
		TriggerMax:  triggerMax,
		TriggerCurr: triggerMax,
		Weights:     memory.DefaultWeights(),
	}
}

// NoteImportance spends poignancy from the reflection budget.
func (s *Scratch) NoteImportance(poignancy int) {
	s.TriggerCurr -= poignancy
	s.EleN++
}

// ShouldReflect reports whether the importance budget is exhausted.
func (s *Scratch) ShouldReflect() bool {
	return s.TriggerCurr <= 0 && s.EleN > 0
}

// ResetReflection restores the full importance budget.
func (s *Scratch) ResetReflection() {
	s.TriggerCurr = s.TriggerMax
	s.EleN = 0
}

// InConversation reports whether the agent has a live conversation.
func (s *Scratch) InConversation() bool { return s.ChattingWith != "" }

// ResetConversation clears all conversation state.
func (s *Scratch) ResetConversation() {
	s.ChattingWith = ""
	s.ChattingEnd = time.Time{}
	s.Turns = nil
}
