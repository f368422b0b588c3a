package loader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
)

var errLimitReached = errors.New("limit reached")

type Options struct {
	// Shuffle orders examples by their salted key hash instead of file order.
	Shuffle bool
	// ShuffleSalt defaults to the split name.
	ShuffleSalt string
	// VerifyCounts compares the number of streamed examples with the card.
	// Ignored when Limit is set.
	VerifyCounts bool
	// Limit stops after this many examples. Zero means no limit.
	Limit int
}

// Loader opens dataset splits from a manual download directory.
type Loader struct {
	// ManualDir holds the downloaded files, either directly or under a
	// subdirectory named after the dataset identifier.
	ManualDir string
	Logger    *log.Logger
	// Sources overrides DefaultSources when set.
	Sources map[string]Source
}

func (l *Loader) logf(format string, args ...any) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.Printf(format, args...)
}

func (l *Loader) source(identifier string) (Source, bool) {
	sources := l.Sources
	if sources == nil {
		sources = DefaultSources()
	}
	s, ok := sources[identifier]
	return s, ok
}

// ResolveDir returns the directory holding c's manual download files.
func (l *Loader) ResolveDir(c *card.Card) string {
	nested := filepath.Join(l.ManualDir, c.Identifier)
	if st, err := os.Stat(nested); err == nil && st.IsDir() {
		return nested
	}
	return l.ManualDir
}

// CheckFiles returns a *MissingFilesError naming every required manual file
// absent from dir.
func CheckFiles(c *card.Card, dir string) error {
	if !c.ManualDownload.Required {
		return nil
	}
	var missing []string
	for _, name := range c.ManualDownload.Files {
		st, err := os.Stat(filepath.Join(dir, name))
		if err != nil || st.IsDir() {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingFilesError{
		Dataset:      c.Identifier,
		Dir:          dir,
		Files:        missing,
		Instructions: c.ManualDownload.Instructions,
	}
}

// Open prepares a reader for one split of a card version. The split and the
// manual download files are checked here; records are read by Each.
func (l *Loader) Open(ctx context.Context, c *card.Card, version, split string, opts Options) (*SplitReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := c.Version(version)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Identifier, err)
	}
	sp, ok := v.Split(split)
	if !ok {
		return nil, &UnknownSplitError{Dataset: c.Identifier, Version: v.Tag, Split: split, Known: v.SplitNames()}
	}
	src, ok := l.source(c.Identifier)
	if !ok {
		return nil, fmt.Errorf("%s: %w", c.Identifier, ErrNoSource)
	}
	dir := l.ResolveDir(c)
	if err := CheckFiles(c, dir); err != nil {
		return nil, err
	}
	if opts.ShuffleSalt == "" {
		opts.ShuffleSalt = sp.Name
	}
	return &SplitReader{
		loader:  l,
		card:    c,
		version: v,
		split:   sp,
		dir:     dir,
		src:     src,
		opts:    opts,
	}, nil
}

// SplitReader streams the examples of one split.
type SplitReader struct {
	loader  *Loader
	card    *card.Card
	version card.Version
	split   card.Split
	dir     string
	src     Source
	opts    Options
}

func (r *SplitReader) Split() card.Split { return r.split }

func (r *SplitReader) Dir() string { return r.dir }

// Each calls fn for every example in order. Records are checked against the
// card's features before fn sees them. An error from fn stops iteration and
// is returned as is.
func (r *SplitReader) Each(ctx context.Context, fn func(Example) error) error {
	start := time.Now()
	var n int64
	emit := func(ex Example) error {
		if r.opts.Limit > 0 && n >= int64(r.opts.Limit) {
			return errLimitReached
		}
		n++
		return fn(ex)
	}

	var err error
	if r.opts.Shuffle {
		err = r.eachShuffled(ctx, emit)
	} else {
		err = r.eachOrdered(ctx, emit)
	}
	if errors.Is(err, errLimitReached) {
		err = nil
	}
	if err != nil {
		return err
	}

	if r.opts.VerifyCounts && r.opts.Limit == 0 && n != r.split.NumExamples {
		return &CountMismatchError{Split: r.split.Name, Want: r.split.NumExamples, Got: n}
	}
	r.loader.logf(
		"loader: dataset=%s version=%s split=%s examples=%d shuffled=%t elapsed=%s",
		r.card.Identifier,
		r.version.Tag,
		r.split.Name,
		n,
		r.opts.Shuffle,
		time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func (r *SplitReader) conform(ex Example) error {
	if err := ex.Record.Conform(r.card.Features); err != nil {
		var re *RecordError
		if errors.As(err, &re) && re.Key == "" {
			re.Key = ex.Key
		}
		return err
	}
	return nil
}

func (r *SplitReader) eachOrdered(ctx context.Context, emit func(Example) error) error {
	seen := make(map[hkey]struct{})
	return r.src.Examples(ctx, r.dir, r.split.Name, r.card.Features, func(ex Example) error {
		h := hashKey(r.opts.ShuffleSalt, ex.Key)
		if _, dup := seen[h]; dup {
			return &DuplicatedKeysError{Key: ex.Key}
		}
		seen[h] = struct{}{}
		if err := r.conform(ex); err != nil {
			return err
		}
		return emit(ex)
	})
}

func (r *SplitReader) eachShuffled(ctx context.Context, emit func(Example) error) error {
	var all []Example
	err := r.src.Examples(ctx, r.dir, r.split.Name, r.card.Features, func(ex Example) error {
		if err := r.conform(ex); err != nil {
			return err
		}
		all = append(all, ex)
		return nil
	})
	if err != nil {
		return err
	}
	ordered, err := shuffle(r.opts.ShuffleSalt, all)
	if err != nil {
		return err
	}
	for _, ex := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(ex); err != nil {
			return err
		}
	}
	return nil
}

// Collect reads every example of the split into memory.
func (r *SplitReader) Collect(ctx context.Context) ([]Example, error) {
	var out []Example
	err := r.Each(ctx, func(ex Example) error {
		out = append(out, ex)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
