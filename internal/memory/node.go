package memory

import (
	"strings"
	"time"
)

// NodeType identifies which sequence and keyword index a node lives in.
type NodeType string

const (
	NodeEvent   NodeType = "event"
	NodeThought NodeType = "thought"
	NodeChat    NodeType = "chat"
	NodeSource  NodeType = "source"
)

// IdleMarker is the degenerate placeholder describing an agent doing
// nothing. Idle observations score poignancy 1 and are excluded from
// retrieval pools and keyword-strength accounting.
const IdleMarker = "is idle"

// Advisory expiration horizons by node type. Source citations and core
// beliefs never expire.
const (
	EventHorizon   = 7 * 24 * time.Hour
	ChatHorizon    = 7 * 24 * time.Hour
	ThoughtHorizon = 30 * 24 * time.Hour
)

// Triple is the subject/predicate/object summary of a node.
type Triple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// IsIdle reports whether the triple is the idle placeholder.
func (t Triple) IsIdle() bool {
	return t.Predicate+" "+t.Object == IdleMarker
}

// Node is a single record in an agent's memory stream. Nodes are immutable
// after creation except for LastAccessed, which is touched on every
// retrieval.
type Node struct {
	ID           string     `json:"id"`
	Type         NodeType   `json:"type"`
	TypeSeq      int        `json:"type_seq"`
	Depth        int        `json:"depth"`
	Created      time.Time  `json:"created"`
	Expiration   *time.Time `json:"expiration,omitempty"`
	LastAccessed time.Time  `json:"last_accessed"`

	Subject     string `json:"subject"`
	Predicate   string `json:"predicate"`
	Object      string `json:"object"`
	Description string `json:"description"`

	EmbeddingKey string   `json:"embedding_key"`
	Poignancy    int      `json:"poignancy"`
	Keywords     []string `json:"keywords"`
	Evidence     []string `json:"evidence,omitempty"`

	// Source-node fields: which corpus work and the literal quoted text.
	SourceID      string `json:"source_id,omitempty"`
	SourcePassage string `json:"source_passage,omitempty"`
}

// Triple returns the node's semantic triple.
func (n *Node) Triple() Triple {
	return Triple{Subject: n.Subject, Predicate: n.Predicate, Object: n.Object}
}

// IsIdle reports whether the node describes the idle placeholder.
func (n *Node) IsIdle() bool {
	return strings.Contains(n.Description, IdleMarker)
}
