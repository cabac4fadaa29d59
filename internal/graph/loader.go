package graph

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/careloop/assessflow/internal/domain"
)

// ErrInvalidFlow marks a malformed flow definition. Always fatal at load
// time; traversal never revalidates.
var ErrInvalidFlow = errors.New("invalid assessment flow definition")

//go:embed flow.yaml
var defaultFlow []byte

// LoadDefault parses the embedded Lawton IADL / Barthel ADL flow.
func LoadDefault() (*Flow, error) {
	return Load(defaultFlow)
}

// LoadFile parses a flow definition from disk, for deployments that
// version the question graph outside the binary.
func LoadFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading flow definition %s: %w", path, err)
	}
	return Load(data)
}

// Load parses and validates a flow definition. All structural problems
// (unknown scale order entries, dangling next references, cycles,
// optionless questions) are rejected here so the navigator can treat the
// graph as trusted.
func Load(data []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing yaml: %v", ErrInvalidFlow, err)
	}

	if len(f.Scales) == 0 {
		return nil, fmt.Errorf("%w: no scales defined", ErrInvalidFlow)
	}
	if len(f.Order) == 0 {
		return nil, fmt.Errorf("%w: scale order is empty", ErrInvalidFlow)
	}

	f.byType = make(map[domain.AssessmentType]*Scale, len(f.Scales))
	for _, s := range f.Scales {
		if !s.Type.IsValid() {
			return nil, fmt.Errorf("%w: unknown assessment type %q", ErrInvalidFlow, s.Type)
		}
		if _, dup := f.byType[s.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate scale %s", ErrInvalidFlow, s.Type)
		}
		if err := resolveScale(s); err != nil {
			return nil, err
		}
		f.byType[s.Type] = s
	}

	for _, t := range f.Order {
		if _, ok := f.byType[t]; !ok {
			return nil, fmt.Errorf("%w: order references undefined scale %s", ErrInvalidFlow, t)
		}
	}

	return &f, nil
}

// resolveScale walks the next-edge chain from the entry node, materializes
// the traversal order, and rejects dangling references and cycles.
func resolveScale(s *Scale) error {
	if len(s.Questions) == 0 {
		return fmt.Errorf("%w: scale %s has no questions", ErrInvalidFlow, s.Type)
	}

	s.index = make(map[string]*Question, len(s.Questions))
	for _, q := range s.Questions {
		if q.Code == "" {
			return fmt.Errorf("%w: scale %s has a question without a code", ErrInvalidFlow, s.Type)
		}
		if _, dup := s.index[q.Code]; dup {
			return fmt.Errorf("%w: duplicate question code %s", ErrInvalidFlow, q.Code)
		}
		if len(q.Options) == 0 {
			return fmt.Errorf("%w: question %s has no answer options", ErrInvalidFlow, q.Code)
		}
		q.AssessmentType = s.Type
		s.index[q.Code] = q
	}

	entry, ok := s.index[s.Entry]
	if !ok {
		return fmt.Errorf("%w: scale %s entry %q does not exist", ErrInvalidFlow, s.Type, s.Entry)
	}

	s.chain = make([]*Question, 0, len(s.Questions))
	seen := make(map[string]bool, len(s.Questions))
	for q := entry; q != nil; {
		if seen[q.Code] {
			return fmt.Errorf("%w: cycle detected at question %s in scale %s", ErrInvalidFlow, q.Code, s.Type)
		}
		seen[q.Code] = true
		s.chain = append(s.chain, q)

		if q.Next == "" {
			break
		}
		next, ok := s.index[q.Next]
		if !ok {
			return fmt.Errorf("%w: question %s points to undefined question %q", ErrInvalidFlow, q.Code, q.Next)
		}
		q = next
	}

	if len(s.chain) != len(s.Questions) {
		return fmt.Errorf("%w: scale %s has %d questions unreachable from entry %s",
			ErrInvalidFlow, s.Type, len(s.Questions)-len(s.chain), s.Entry)
	}

	return nil
}
