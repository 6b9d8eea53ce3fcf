package model

// Persona is a named behavioural configuration selected at session start.
// The client only relies on ID; the remaining fields are informational.
type Persona struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Sliders      map[string]float64 `json:"sliders,omitempty"`
	Style        PersonaStyle       `json:"style"`
	MemoryPolicy MemoryPolicy       `json:"memory_policy"`
}

// PersonaStyle holds the persona's response formatting preferences.
type PersonaStyle struct {
	ResponseLength string `json:"response_length,omitempty"`
	Format         string `json:"format,omitempty"`
}

// MemoryPolicy describes whether and how the persona uses stored memory.
type MemoryPolicy struct {
	Enabled bool   `json:"enabled"`
	Scope   string `json:"scope,omitempty"`
}
