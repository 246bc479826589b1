package agent

// Persona defines a philosopher agent's identity.
type Persona struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Archetype    string   `json:"archetype"` // e.g. "stoic", "empiricist", "dialectician"
	School       string   `json:"school"`
	Era          string   `json:"era"`
	CoreBeliefs  []string `json:"core_beliefs"`
	Style        string   `json:"style"` // debate register: socratic, aphoristic, systematic
	Backstory    string   `json:"backstory"`
	SystemPrompt string   `json:"system_prompt"`
}

// Identity renders the persona header used as the system-prompt preamble
// for every model call made on the agent's behalf.
func (p *Persona) Identity() string {
	if p.SystemPrompt != "" {
		return p.SystemPrompt
	}
	return "You are " + p.Name + ", a " + p.Archetype + " philosopher of the " + p.School + " school."
}
