package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elea/athenaeum/internal/dialogue"
)

// SaveDialogue archives a finished dialogue.
func (s *Store) SaveDialogue(ctx context.Context, d *dialogue.Dialogue) error {
	turns, err := json.Marshal(d.Turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}
	insights, err := json.Marshal(d.KeyInsights)
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}
	unresolved, err := json.Marshal(d.Unresolved)
	if err != nil {
		return fmt.Errorf("marshal unresolved: %w", err)
	}
	sources, err := json.Marshal(d.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO dialogues (id, participant_a, participant_b, style, topic, started, ended, turns, key_insights, unresolved, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			ended = EXCLUDED.ended,
			turns = EXCLUDED.turns,
			key_insights = EXCLUDED.key_insights,
			unresolved = EXCLUDED.unresolved,
			sources = EXCLUDED.sources`,
		d.ID, d.Participants[0], d.Participants[1], d.Style, d.Topic,
		d.Started, d.Ended, turns, insights, unresolved, sources,
	)
	if err != nil {
		return fmt.Errorf("save dialogue %s: %w", d.ID, err)
	}
	return nil
}

// ListDialogues returns archived dialogues, most recent first.
func (s *Store) ListDialogues(ctx context.Context, limit int) ([]*dialogue.Dialogue, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, participant_a, participant_b, style, topic, started, ended, turns, key_insights, unresolved, sources
		FROM dialogues ORDER BY started DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dialogues: %w", err)
	}
	defer rows.Close()

	var out []*dialogue.Dialogue
	for rows.Next() {
		var d dialogue.Dialogue
		var turns, insights, unresolved, sources []byte
		if err := rows.Scan(&d.ID, &d.Participants[0], &d.Participants[1],
			&d.Style, &d.Topic, &d.Started, &d.Ended,
			&turns, &insights, &unresolved, &sources); err != nil {
			return nil, fmt.Errorf("scan dialogue: %w", err)
		}
		if err := json.Unmarshal(turns, &d.Turns); err != nil {
			return nil, fmt.Errorf("unmarshal turns for %s: %w", d.ID, err)
		}
		if err := json.Unmarshal(insights, &d.KeyInsights); err != nil {
			return nil, fmt.Errorf("unmarshal insights for %s: %w", d.ID, err)
		}
		if err := json.Unmarshal(unresolved, &d.Unresolved); err != nil {
			return nil, fmt.Errorf("unmarshal unresolved for %s: %w", d.ID, err)
		}
		if err := json.Unmarshal(sources, &d.Sources); err != nil {
			return nil, fmt.Errorf("unmarshal sources for %s: %w", d.ID, err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
