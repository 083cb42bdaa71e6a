package sam

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrUnknownPrompt = errors.New("prompt not in exported vocabulary")

// Vocabulary maps the prompts an exported decoder was traced with to their ids.
type Vocabulary struct {
	prompts []string
	ids     map[string]int64
}

func ReadLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(b), "\n")
	var out []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

func NewVocabulary(prompts []string) *Vocabulary {
	v := &Vocabulary{prompts: prompts, ids: make(map[string]int64, len(prompts))}
	for i, p := range prompts {
		if _, dup := v.ids[p]; !dup {
			v.ids[p] = int64(i)
		}
	}
	return v
}

func ReadVocabulary(path string) (*Vocabulary, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("prompts file %s is empty", path)
	}
	return NewVocabulary(lines), nil
}

// ID looks the prompt up exactly as given.
func (v *Vocabulary) ID(prompt string) (int64, error) {
	id, ok := v.ids[prompt]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPrompt, prompt)
	}
	return id, nil
}

func (v *Vocabulary) Len() int {
	return len(v.prompts)
}
