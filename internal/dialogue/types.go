package dialogue

import (
	"errors"
	"time"
)

// MaxConversationTurns caps a dialogue's length.
const MaxConversationTurns = 8

// simulatedDuration is how long a conversation lasts in simulated time,
// independent of wall-clock turn-generation speed.
const simulatedDuration = 10 * time.Minute

var (
	ErrDialogueNotFound   = errors.New("dialogue not found")
	ErrTurnInFlight       = errors.New("turn generation already in flight")
	ErrAlreadyConversing  = errors.New("participant already conversing")
	ErrParticipantUnknown = errors.New("participant not registered")
)

// Move classifies a turn's argumentative function. Classification matches
// model output against this closed set; no match defaults to clarification.
type Move string

const (
	MoveThesis        Move = "thesis"
	MoveAntithesis    Move = "antithesis"
	MoveSynthesis     Move = "synthesis"
	MoveQuestion      Move = "question"
	MoveObjection     Move = "objection"
	MoveClarification Move = "clarification"
	MoveEvidence      Move = "evidence"
	MoveConcession    Move = "concession"
)

// Citation grounds a turn in quoted corpus text.
type Citation struct {
	Text      string `json:"text"`
	Source    string `json:"source"`
	Relevance string `json:"relevance"`
}

// Turn is one utterance in a dialogue.
type Turn struct {
	Speaker   string     `json:"speaker"`
	Text      string     `json:"text"`
	Move      Move       `json:"move"`
	Citations []Citation `json:"citations,omitempty"`
	At        time.Time  `json:"at"`
}

// Dialogue is a conversation between two agents. Summary fields are
// populated only at dialogue end.
type Dialogue struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"` // agent IDs
	Style        string    `json:"style"`
	Topic        string    `json:"topic"`
	Started      time.Time `json:"started"`
	Ended        time.Time `json:"ended,omitempty"`
	Turns        []Turn    `json:"turns"`

	KeyInsights []string `json:"key_insights,omitempty"`
	Unresolved  []string `json:"unresolved,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}
