package card

import (
	"errors"
	"fmt"
	"regexp"
)

// Invariant identifies the card rule a Violation breaks.
type Invariant string

const (
	InvariantIdentifier     Invariant = "identifier"
	InvariantVersions       Invariant = "versions"
	InvariantDefaultVersion Invariant = "default_version"
	InvariantFeatures       Invariant = "features"
	InvariantSupervisedPair Invariant = "supervised_pair"
	InvariantSplits         Invariant = "splits"
	InvariantSplitTotal     Invariant = "split_total"
	InvariantManualDownload Invariant = "manual_download"
)

// Violation is a single broken card invariant.
type Violation struct {
	Invariant Invariant
	Field     string
	Msg       string

	// Err is an optional cause, e.g. ErrUnknownType.
	Err error
}

func (v *Violation) Error() string {
	if v == nil {
		return "card violation"
	}
	if v.Field == "" {
		return fmt.Sprintf("%s: %s", v.Invariant, v.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", v.Invariant, v.Field, v.Msg)
}

func (v *Violation) Unwrap() error {
	if v == nil {
		return nil
	}
	return v.Err
}

// Violations flattens the violations carried by an error returned from Validate.
func Violations(err error) []*Violation {
	if err == nil {
		return nil
	}
	var out []*Violation
	var walk func(error)
	walk = func(e error) {
		if v, ok := e.(*Violation); ok {
			out = append(out, v)
			return
		}
		if multi, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range multi.Unwrap() {
				walk(inner)
			}
			return
		}
		if inner := errors.Unwrap(e); inner != nil {
			walk(inner)
		}
	}
	walk(err)
	return out
}

var (
	identifierRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	versionRe    = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)
)

// Validate checks every card invariant and returns nil or the joined violations.
func (c *Card) Validate() error {
	if c == nil {
		return &Violation{Invariant: InvariantIdentifier, Msg: "card is nil"}
	}
	var errs []error
	add := func(inv Invariant, field string, format string, args ...any) {
		errs = append(errs, &Violation{Invariant: inv, Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	switch {
	case c.Identifier == "":
		add(InvariantIdentifier, "identifier", "is required")
	case !identifierRe.MatchString(c.Identifier):
		add(InvariantIdentifier, "identifier", "%q must be snake_case", c.Identifier)
	}

	if len(c.Versions) == 0 {
		add(InvariantVersions, "versions", "at least one version is required")
	}
	seenTags := make(map[string]bool, len(c.Versions))
	defaults := 0
	for i, v := range c.Versions {
		field := fmt.Sprintf("versions[%d]", i)
		if !versionRe.MatchString(v.Tag) {
			add(InvariantVersions, field, "tag %q must be <major>.<minor>.<patch>", v.Tag)
		}
		if seenTags[v.Tag] {
			add(InvariantVersions, field, "duplicate tag %q", v.Tag)
		}
		seenTags[v.Tag] = true
		if v.Default {
			defaults++
		}
		errs = append(errs, validateSplits(field, v)...)
	}
	if len(c.Versions) > 0 && defaults != 1 {
		add(InvariantDefaultVersion, "versions", "exactly one default version required, found %d", defaults)
	}

	if len(c.Features) == 0 {
		add(InvariantFeatures, "features", "at least one feature is required")
	}
	seenFeatures := make(map[string]bool, len(c.Features))
	for _, f := range c.Features {
		if f.Name == "" {
			add(InvariantFeatures, "features", "feature name is required")
			continue
		}
		if seenFeatures[f.Name] {
			add(InvariantFeatures, "features."+f.Name, "duplicate feature")
		}
		seenFeatures[f.Name] = true
		if _, err := f.Type(); err != nil {
			errs = append(errs, &Violation{
				Invariant: InvariantFeatures,
				Field:     "features." + f.Name,
				Msg:       fmt.Sprintf("unknown type tag %q", f.Tag),
				Err:       err,
			})
		}
	}

	if sp := c.SupervisedPair; sp != nil {
		if _, ok := c.Features.Lookup(sp.Input); !ok {
			add(InvariantSupervisedPair, "supervised_pair.input", "field %q not in features", sp.Input)
		}
		if _, ok := c.Features.Lookup(sp.Target); !ok {
			add(InvariantSupervisedPair, "supervised_pair.target", "field %q not in features", sp.Target)
		}
	}

	if c.ManualDownload.Required {
		if len(c.ManualDownload.Files) == 0 {
			add(InvariantManualDownload, "manual_download.files", "required files must be listed when manual download is required")
		}
		for i, f := range c.ManualDownload.Files {
			if f == "" {
				add(InvariantManualDownload, fmt.Sprintf("manual_download.files[%d]", i), "file name is empty")
			}
		}
	}

	return errors.Join(errs...)
}

func validateSplits(field string, v Version) []error {
	var errs []error
	seen := make(map[string]bool, len(v.Splits))
	for _, s := range v.Splits {
		if s.Name == "" {
			errs = append(errs, &Violation{Invariant: InvariantSplits, Field: field + ".splits", Msg: "split name is required"})
			continue
		}
		if seen[s.Name] {
			errs = append(errs, &Violation{Invariant: InvariantSplits, Field: field + ".splits." + s.Name, Msg: "duplicate split"})
		}
		seen[s.Name] = true
		if s.NumExamples < 0 {
			errs = append(errs, &Violation{
				Invariant: InvariantSplits,
				Field:     field + ".splits." + s.Name,
				Msg:       fmt.Sprintf("negative example count %d", s.NumExamples),
			})
		}
	}
	if sum := v.SplitSum(); sum != v.TotalExamples {
		errs = append(errs, &Violation{
			Invariant: InvariantSplitTotal,
			Field:     field,
			Msg:       fmt.Sprintf("split counts sum to %d, published total is %d", sum, v.TotalExamples),
		})
	}
	return errs
}
