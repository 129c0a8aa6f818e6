// Package persona holds the static mapping from a chat mode to the system
// instruction sent to the generation backend.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode identifies a persona. Values only come from a Registry lookup.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeExpert   Mode = "expert"
	ModePlayful  Mode = "playful"
)

// ErrUnknownMode is returned when a token is not in the registry.
var ErrUnknownMode = errors.New("unknown mode")

// Persona is one selectable mode.
type Persona struct {
	Mode        Mode   `yaml:"mode"`
	Title       string `yaml:"title"`
	Instruction string `yaml:"instruction"`
}

// Builtin returns the personas every registry starts with.
func Builtin() []Persona {
	return []Persona{
		{
			Mode:        ModeStandard,
			Title:       "🤖 Стандартный",
			Instruction: "Ты — полезный и дружелюбный ассистент.",
		},
		{
			Mode:        ModeExpert,
			Title:       "🎓 Эксперт",
			Instruction: "Ты — ведущий мировой эксперт в любой области. Твои ответы точны, лаконичны и подкреплены фактами. Говори авторитетно.",
		},
		{
			Mode:        ModePlayful,
			Title:       "😼 Саркастичный кот",
			Instruction: "Ты — саркастичный кот по имени Мяурон. Ты неохотно, но правильно отвечаешь на вопросы. Ты часто вздыхаешь и жалуешься на глупость людей.",
		},
	}
}

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	order    []Mode
	personas map[Mode]Persona
	def      Mode
}

// NewRegistry builds a registry from the builtin personas followed by extra.
// Duplicate or empty modes are rejected.
func NewRegistry(extra ...Persona) (*Registry, error) {
	r := &Registry{
		personas: make(map[Mode]Persona),
		def:      ModeStandard,
	}
	for _, p := range append(Builtin(), extra...) {
		p.Mode = Mode(strings.TrimSpace(string(p.Mode)))
		if p.Mode == "" {
			return nil, fmt.Errorf("persona with empty mode")
		}
		if strings.TrimSpace(p.Instruction) == "" {
			return nil, fmt.Errorf("persona %q has empty instruction", p.Mode)
		}
		if _, dup := r.personas[p.Mode]; dup {
			return nil, fmt.Errorf("duplicate persona %q", p.Mode)
		}
		if p.Title == "" {
			p.Title = string(p.Mode)
		}
		r.personas[p.Mode] = p
		r.order = append(r.order, p.Mode)
	}
	return r, nil
}

// MustRegistry is NewRegistry for static inputs.
func MustRegistry(extra ...Persona) *Registry {
	r, err := NewRegistry(extra...)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the mode used for chats that never selected one.
func (r *Registry) Default() Mode {
	return r.def
}

// Lookup validates an opaque token from the transport.
func (r *Registry) Lookup(token string) (Mode, error) {
	m := Mode(strings.TrimSpace(token))
	if _, ok := r.personas[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, token)
	}
	return m, nil
}

// InstructionFor returns the system instruction for mode.
func (r *Registry) InstructionFor(mode Mode) (string, error) {
	p, ok := r.personas[mode]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return p.Instruction, nil
}

// Title returns the menu title for mode, or the raw mode when unknown.
func (r *Registry) Title(mode Mode) string {
	if p, ok := r.personas[mode]; ok {
		return p.Title
	}
	return string(mode)
}

// Personas returns all personas in declaration order.
func (r *Registry) Personas() []Persona {
	out := make([]Persona, 0, len(r.order))
	for _, m := range r.order {
		out = append(out, r.personas[m])
	}
	return out
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads custom personas from a YAML document of the form
//
//	personas:
//	  - mode: pirate
//	    title: "🏴‍☠️ Пират"
//	    instruction: "..."
func LoadFile(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personas file %s: %w", path, err)
	}
	var f personaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse personas file %s: %w", path, err)
	}
	return f.Personas, nil
}
