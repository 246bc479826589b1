package reflection

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/memory"
	"github.com/elea/athenaeum/internal/provider"
)

const (
	minPoignancy     = 1
	maxPoignancy     = 10
	defaultPoignancy = 5
)

// ScorePoignancy rates how profound a description is for the given
// archetype, 1 (mundane) to 10 (profound). Idle descriptions score 1
// without a model call. Parse failures default to 5; out-of-range
// integers are clamped.
func ScorePoignancy(ctx context.Context, router *provider.Router, agentID, archetype, description string, logger *zap.Logger) int {
	if strings.Contains(description, memory.IdleMarker) {
		return minPoignancy
	}

	system := fmt.Sprintf("You rate the significance of experiences for %s, a %s. Respond with a single integer from 1 (utterly mundane) to 10 (profound, life-changing). No other text.", agentID, archetype)
	out, err := router.Complete(ctx, agentID, system, description)
	if err != nil {
		logger.Warn("poignancy scoring failed, using default",
			zap.String("agent", agentID), zap.Error(err))
		return defaultPoignancy
	}

	n, ok := ParseInteger(out)
	if !ok {
		return defaultPoignancy
	}
	if n < minPoignancy {
		return minPoignancy
	}
	if n > maxPoignancy {
		return maxPoignancy
	}
	return n
}

// DeriveTriple reduces a description to a subject/predicate/object triple.
// When the model output is unparseable the fallback is first word /
// "reflects on" / the full text; parsing failure never aborts the caller.
func DeriveTriple(ctx context.Context, router *provider.Router, agentID, description string, logger *zap.Logger) memory.Triple {
	system := "Reduce the statement to a (subject, predicate, object) triple. Respond with exactly one line: subject | predicate | object"
	out, err := router.Complete(ctx, agentID, system, description)
	if err == nil {
		if s, p, o, ok := parseTriple(out); ok {
			return memory.Triple{Subject: s, Predicate: p, Object: o}
		}
	} else {
		logger.Warn("triple derivation failed, using fallback",
			zap.String("agent", agentID), zap.Error(err))
	}

	subject := description
	if fields := strings.Fields(description); len(fields) > 0 {
		subject = fields[0]
	}
	return memory.Triple{Subject: subject, Predicate: "reflects on", Object: description}
}

// TripleKeywords returns the keyword set for a triple: its non-empty
// components, lowercased.
func TripleKeywords(t memory.Triple) []string {
	var kws []string
	for _, s := range []string{t.Subject, t.Predicate, t.Object} {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			kws = append(kws, s)
		}
	}
	return kws
}
