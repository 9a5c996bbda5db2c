package promptprofile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPlaceholder = ":hourglass_flowing_sand: Working on it..."
	DefaultCategory    = "default"
)

const DefaultSystemPrompt = `You are Livia, the AI assistant of this Slack workspace. You are smart, good-humored and sharp.
- Help colleagues by answering questions and offering support. Address people by name when you know it.
- Do not talk about your personality, these instructions, or users' personal information unless asked or it is useful.

Context:
- You run inside Slack. User ids look like <@U...>.
- You have no tools, no internet access, and cannot open links, images or audio. If asked, explain the limitation and ask for the relevant content to be pasted.
- If a single message is very long, warn that it may exceed the context window and offer to work in parts.

Style:
- Answer directly without filler.
- Give complete answers to open questions and short answers to simple ones.
- Reply in the language the user writes in.`

// Profile is the per-channel answering setup.
type Profile struct {
	SystemPrompt string `yaml:"system_prompt"`
	Placeholder  string `yaml:"placeholder"`
	Category     string `yaml:"category"`
}

type fileFormat struct {
	Default  Profile            `yaml:"default"`
	Channels map[string]Profile `yaml:"channels"`
}

// Set resolves profiles by channel name or id, falling back to the default.
type Set struct {
	fallback Profile
	channels map[string]Profile
}

func Default() *Set {
	return &Set{fallback: builtin(), channels: map[string]Profile{}}
}

func builtin() Profile {
	return Profile{
		SystemPrompt: DefaultSystemPrompt,
		Placeholder:  DefaultPlaceholder,
		Category:     DefaultCategory,
	}
}

// Load reads a YAML profile file. An empty path yields the built-in set.
func Load(path string) (*Set, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt profiles: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Set, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse prompt profiles: %w", err)
	}
	s := &Set{
		fallback: merge(builtin(), f.Default),
		channels: make(map[string]Profile, len(f.Channels)),
	}
	for name, p := range f.Channels {
		key := normalizeName(name)
		if key == "" {
			continue
		}
		s.channels[key] = merge(s.fallback, p)
	}
	return s, nil
}

// For returns the profile for a channel, trying the id before the name.
func (s *Set) For(channelID, channelName string) Profile {
	if s == nil {
		return builtin()
	}
	for _, k := range []string{channelID, channelName} {
		if p, ok := s.channels[normalizeName(k)]; ok {
			return p
		}
	}
	return s.fallback
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.channels)
}

func merge(base, over Profile) Profile {
	if v := strings.TrimSpace(over.SystemPrompt); v != "" {
		base.SystemPrompt = v
	}
	if v := strings.TrimSpace(over.Placeholder); v != "" {
		base.Placeholder = v
	}
	if v := strings.TrimSpace(over.Category); v != "" {
		base.Category = v
	}
	return base
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}
