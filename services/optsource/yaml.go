// Package optsource resolves the entity collections offered by dynamic_dropdown rubric items.
package optsource

import (
	"context"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/convoca/core/rubric"
)

// Source is a static set of collections, read from YAML:
//
//	institutions:
//	  - id: unikin
//	    label: Université de Kinshasa
//	research_lines:
//	  - id: health
//	    label: Public health
type Source struct {
	collections map[string][]rubric.SourceEntry
}

var _ rubric.OptionSource = (*Source)(nil) // interface compliance check

func New(collections map[string][]rubric.SourceEntry) *Source {
	if collections == nil {
		collections = make(map[string][]rubric.SourceEntry)
	}
	return &Source{collections: collections}
}

// Decode reads collections from r. Every entry needs an id and a label, unique ids per collection.
func Decode(r io.Reader) (*Source, error) {
	collections := make(map[string][]rubric.SourceEntry)
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&collections); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decoding option sources")
	}
	for name, entries := range collections {
		seen := make(map[string]bool, len(entries))
		for i, e := range entries {
			if e.ID == "" || e.Label == "" {
				return nil, errors.Errorf("option sources: %s[%d] needs an id and a label", name, i)
			}
			if seen[e.ID] {
				return nil, errors.Errorf("option sources: duplicate id %q in %s", e.ID, name)
			}
			seen[e.ID] = true
		}
	}
	return New(collections), nil
}

// LoadFile reads collections from the YAML file at path. An empty path gives an empty Source.
func LoadFile(path string) (*Source, error) {
	if path == "" {
		return New(nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening option sources")
	}
	defer f.Close()
	return Decode(f)
}

func (s *Source) Collections() []string {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Source) Entries(_ context.Context, collection string) ([]rubric.SourceEntry, error) {
	entries, ok := s.collections[collection]
	if !ok {
		return nil, rubric.ErrUnknownCollection
	}
	return append([]rubric.SourceEntry{}, entries...), nil
}
