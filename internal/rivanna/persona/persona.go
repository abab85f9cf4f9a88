// Package persona loads the character the bot plays: its name, the system
// prompt that defines it, and the stage cues used when a chat starts, ends,
// or is reset.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultName is used when a persona file does not set one.
const DefaultName = "Rivanna"

// Persona describes the character.
//
//	name: Rivanna
//	prompt: |
//	  You are Rivanna, a cheerful regular of this chat...
//	cues:
//	  enter: "Rivanna walks in and she says:"
type Persona struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
	Cues   Cues   `yaml:"cues"`
}

// Cues are user-turn prompts that make the persona react to a lifecycle
// event instead of to a chat message.
type Cues struct {
	Enter string `yaml:"enter"`
	Leave string `yaml:"leave"`
	Reset string `yaml:"reset"`
}

// Parse decodes a persona YAML document, fills default cues, and validates
// it.
func Parse(data []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("persona parse: %w", err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads and parses the persona at path.
func LoadFile(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	return Parse(data)
}

// Blank returns a persona without a prompt. Chats cannot start with it, but
// commands still have a name and cues to show.
func Blank() *Persona {
	p := &Persona{}
	p.applyDefaults()
	return p
}

// Validate checks that the persona can drive a conversation.
func (p *Persona) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("persona %q: prompt must not be empty", p.Name)
	}
	return nil
}

// EnterChat is the notice posted when a chat starts.
func (p *Persona) EnterChat() string { return "*" + p.Name + " enters chat*" }

// LeaveChat is the notice posted when a chat ends.
func (p *Persona) LeaveChat() string { return "*" + p.Name + " leaves chat*" }

func (p *Persona) applyDefaults() {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = DefaultName
	}
	if p.Cues.Enter == "" {
		p.Cues.Enter = p.Name + " walks in and says:"
	}
	if p.Cues.Leave == "" {
		p.Cues.Leave = p.Name + " has to leave and says:"
	}
	if p.Cues.Reset == "" {
		p.Cues.Reset = p.Name + "'s recent memory has been wiped! Dazed and confused, " + p.Name + " says:"
	}
}
