package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elea/athenaeum/internal/agent"
	"github.com/elea/athenaeum/internal/memory"
)

// SavePersona upserts a philosopher's identity.
func (s *Store) SavePersona(ctx context.Context, p *agent.Persona) error {
	beliefs, err := json.Marshal(p.CoreBeliefs)
	if err != nil {
		return fmt.Errorf("marshal core beliefs: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(ctx, `
		INSERT INTO personas (id, name, archetype, school, era, style, backstory, system_prompt, core_beliefs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			archetype = EXCLUDED.archetype,
			school = EXCLUDED.school,
			era = EXCLUDED.era,
			style = EXCLUDED.style,
			backstory = EXCLUDED.backstory,
			system_prompt = EXCLUDED.system_prompt,
			core_beliefs = EXCLUDED.core_beliefs,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.Archetype, p.School, p.Era, p.Style,
		p.Backstory, p.SystemPrompt, beliefs, now,
	)
	if err != nil {
		return fmt.Errorf("save persona %s: %w", p.ID, err)
	}
	return nil
}

// GetPersona retrieves a persona by ID.
func (s *Store) GetPersona(ctx context.Context, id string) (*agent.Persona, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, archetype, school, era, style, backstory, system_prompt, core_beliefs
		FROM personas WHERE id = $1`, id)

	var p agent.Persona
	var beliefs []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Archetype, &p.School, &p.Era,
		&p.Style, &p.Backstory, &p.SystemPrompt, &beliefs); err != nil {
		return nil, fmt.Errorf("get persona %s: %w", id, err)
	}
	if err := json.Unmarshal(beliefs, &p.CoreBeliefs); err != nil {
		return nil, fmt.Errorf("unmarshal core beliefs for %s: %w", id, err)
	}
	return &p, nil
}

// ListPersonas returns all personas in creation order.
func (s *Store) ListPersonas(ctx context.Context) ([]*agent.Persona, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, archetype, school, era, style, backstory, system_prompt, core_beliefs
		FROM personas ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var personas []*agent.Persona
	for rows.Next() {
		var p agent.Persona
		var beliefs []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Archetype, &p.School, &p.Era,
			&p.Style, &p.Backstory, &p.SystemPrompt, &beliefs); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		if err := json.Unmarshal(beliefs, &p.CoreBeliefs); err != nil {
			return nil, fmt.Errorf("unmarshal core beliefs for %s: %w", p.ID, err)
		}
		personas = append(personas, &p)
	}
	return personas, rows.Err()
}

// SaveState upserts an agent's scratch state and full memory snapshot.
// Each save replaces the previous one: the snapshot is a point-in-time
// image, not a log.
func (s *Store) SaveState(ctx context.Context, agentID string, scratch *agent.Scratch, snap *memory.Snapshot) error {
	scratchJSON, err := json.Marshal(scratch)
	if err != nil {
		return fmt.Errorf("marshal scratch: %w", err)
	}
	memoryJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal memory snapshot: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_state (agent_id, scratch, memory, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id) DO UPDATE SET
			scratch = EXCLUDED.scratch,
			memory = EXCLUDED.memory,
			saved_at = EXCLUDED.saved_at`,
		agentID, scratchJSON, memoryJSON, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save state %s: %w", agentID, err)
	}
	return nil
}

// LoadState retrieves an agent's scratch state and memory snapshot.
func (s *Store) LoadState(ctx context.Context, agentID string) (*agent.Scratch, *memory.Snapshot, error) {
	row := s.db.QueryRow(ctx, `
		SELECT scratch, memory FROM agent_state WHERE agent_id = $1`, agentID)

	var scratchJSON, memoryJSON []byte
	if err := row.Scan(&scratchJSON, &memoryJSON); err != nil {
		return nil, nil, fmt.Errorf("load state %s: %w", agentID, err)
	}

	var scratch agent.Scratch
	if err := json.Unmarshal(scratchJSON, &scratch); err != nil {
		return nil, nil, fmt.Errorf("unmarshal scratch for %s: %w", agentID, err)
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(memoryJSON, &snap); err != nil {
		return nil, nil, fmt.Errorf("unmarshal memory snapshot for %s: %w", agentID, err)
	}
	return &scratch, &snap, nil
}
