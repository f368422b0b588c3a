package card

import (
	"errors"
	"slices"
)

// ErrUnknownVersion is returned when a version tag is not part of a card.
var ErrUnknownVersion = errors.New("unknown version")

// Card is the published metadata of one dataset: identity, description, physical
// layout, logical schema and split inventory per version.
//
// A card is authored once per dataset version and treated as read-only afterwards.
type Card struct {
	Identifier  string
	Versions    []Version
	Description string
	Homepage    string
	SourceURLs  []string
	Citation    string
	License     string
	EthicsNotes string

	ManualDownload ManualDownload

	Features       Features
	SupervisedPair *SupervisedPair

	// Sizes in bytes; zero means unknown.
	DownloadSize int64
	DatasetSize  int64
}

// Version is one published release of the dataset.
type Version struct {
	Tag     string
	Default bool
	Notes   string

	Splits        []Split
	TotalExamples int64
}

// Split is a named partition with its example count.
type Split struct {
	Name        string
	NumExamples int64
}

// ManualDownload describes raw files the user must place before loading.
type ManualDownload struct {
	Required     bool
	Files        []string
	Instructions string
}

// SupervisedPair names the (input, target) fields for supervised use.
type SupervisedPair struct {
	Input  string
	Target string
}

// DefaultVersion returns the version marked default.
func (c *Card) DefaultVersion() (Version, bool) {
	for _, v := range c.Versions {
		if v.Default {
			return v, true
		}
	}
	return Version{}, false
}

// Version returns the version with the given tag; an empty tag or "default"
// resolves the default version.
func (c *Card) Version(tag string) (Version, error) {
	if tag == "" || tag == "default" {
		v, ok := c.DefaultVersion()
		if !ok {
			return Version{}, ErrUnknownVersion
		}
		return v, nil
	}
	for _, v := range c.Versions {
		if v.Tag == tag {
			return v, nil
		}
	}
	return Version{}, ErrUnknownVersion
}

// Split returns the split with the given name.
func (v Version) Split(name string) (Split, bool) {
	for _, s := range v.Splits {
		if s.Name == name {
			return s, true
		}
	}
	return Split{}, false
}

// SplitNames returns split names in declaration order.
func (v Version) SplitNames() []string {
	out := make([]string, 0, len(v.Splits))
	for _, s := range v.Splits {
		out = append(out, s.Name)
	}
	return out
}

// SplitSum returns the sum of all split counts.
func (v Version) SplitSum() int64 {
	var n int64
	for _, s := range v.Splits {
		n += s.NumExamples
	}
	return n
}

// Clone returns a deep copy of the card.
func (c *Card) Clone() *Card {
	if c == nil {
		return nil
	}
	out := *c
	out.SourceURLs = slices.Clone(c.SourceURLs)
	out.ManualDownload.Files = slices.Clone(c.ManualDownload.Files)
	out.Features = slices.Clone(c.Features)
	if c.SupervisedPair != nil {
		sp := *c.SupervisedPair
		out.SupervisedPair = &sp
	}
	out.Versions = make([]Version, len(c.Versions))
	for i, v := range c.Versions {
		v.Splits = slices.Clone(v.Splits)
		out.Versions[i] = v
	}
	return &out
}
