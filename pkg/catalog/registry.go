package catalog

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
)

var (
	ErrUnknownDataset   = errors.New("unknown dataset")
	ErrVersionPublished = errors.New("version already published")
)

// Entry summarizes one dataset in List output.
type Entry struct {
	Identifier     string   `json:"identifier"`
	Versions       []string `json:"versions"`
	DefaultVersion string   `json:"defaultVersion"`
}

// Registry holds validated cards keyed by identifier. Published versions are
// immutable.
type Registry struct {
	mu    sync.RWMutex
	cards map[string]*card.Card
}

func NewRegistry() *Registry {
	return &Registry{cards: make(map[string]*card.Card)}
}

// Register validates c and merges its versions into the stored card. The
// record schema must match the published one; descriptive fields and the
// default version follow the newest registration.
func (r *Registry) Register(c *card.Card) error {
	if c == nil {
		return errors.New("nil card")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	incoming := c.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.cards[incoming.Identifier]
	if !ok {
		r.cards[incoming.Identifier] = incoming
		return nil
	}

	if field, ok := sameSchema(existing, incoming); !ok {
		return fmt.Errorf("%s: %s differs from the published schema: %w", incoming.Identifier, field, ErrVersionPublished)
	}

	merged := incoming.Clone()
	merged.Versions = nil
	def, _ := incoming.DefaultVersion()
	for _, old := range existing.Versions {
		if nv, err := incoming.Version(old.Tag); err == nil {
			if !sameVersion(old, nv) {
				return fmt.Errorf("%s@%s: %w", incoming.Identifier, old.Tag, ErrVersionPublished)
			}
		}
		old.Default = old.Tag == def.Tag
		merged.Versions = append(merged.Versions, old)
	}
	for _, v := range incoming.Versions {
		if _, err := existing.Version(v.Tag); err == nil {
			continue
		}
		merged.Versions = append(merged.Versions, v)
	}
	r.cards[incoming.Identifier] = merged
	return nil
}

// sameSchema reports whether a and b declare the same record schema. Features,
// supervised pair and manual download files are shared by every version of a
// card, so they cannot change once any version is published.
func sameSchema(a, b *card.Card) (string, bool) {
	switch {
	case !reflect.DeepEqual(a.Features, b.Features):
		return "features", false
	case !reflect.DeepEqual(a.SupervisedPair, b.SupervisedPair):
		return "supervised_pair", false
	case !reflect.DeepEqual(normalizedManual(a.ManualDownload), normalizedManual(b.ManualDownload)):
		return "manual_download", false
	}
	return "", true
}

func normalizedManual(m card.ManualDownload) card.ManualDownload {
	m.Instructions = ""
	if len(m.Files) == 0 {
		m.Files = nil
	}
	return m
}

// sameVersion compares the published content of two versions; the default
// flag is not part of it.
func sameVersion(a, b card.Version) bool {
	a.Default, b.Default = false, false
	return reflect.DeepEqual(a, b)
}

// Get returns a copy of the card and the resolved version. An empty tag or
// "default" selects the default version.
func (r *Registry) Get(identifier, version string) (*card.Card, card.Version, error) {
	r.mu.RLock()
	c, ok := r.cards[identifier]
	r.mu.RUnlock()
	if !ok {
		return nil, card.Version{}, fmt.Errorf("%q: %w", identifier, ErrUnknownDataset)
	}
	c = c.Clone()
	v, err := c.Version(version)
	if err != nil {
		return nil, card.Version{}, fmt.Errorf("%s: %w", identifier, err)
	}
	return c, v, nil
}

// List returns every dataset sorted by identifier.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.cards))
	for id, c := range r.cards {
		e := Entry{Identifier: id}
		for _, v := range c.Versions {
			e.Versions = append(e.Versions, v.Tag)
			if v.Default {
				e.DefaultVersion = v.Tag
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cards)
}
