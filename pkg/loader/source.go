package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
)

// Source reads the examples of one split from a manual download directory.
type Source interface {
	// Examples calls emit for every example of split, in file order.
	Examples(ctx context.Context, dir, split string, features card.Features, emit func(Example) error) error
}

const (
	DialogueFile = "news_dialogue.json"
	SplitFile    = "train_val_test_split.json"
)

// DialogueSource reads interview transcripts: a JSON array of dialogue objects
// plus a split file mapping split names to dialogue ids.
type DialogueSource struct {
	DialogueFile string
	SplitFile    string
}

// DefaultSources returns the record sources known for catalog datasets.
func DefaultSources() map[string]Source {
	return map[string]Source{
		"media_sum": DialogueSource{},
	}
}

func (s DialogueSource) files() (string, string) {
	dialogues, splits := s.DialogueFile, s.SplitFile
	if dialogues == "" {
		dialogues = DialogueFile
	}
	if splits == "" {
		splits = SplitFile
	}
	return dialogues, splits
}

func (s DialogueSource) Examples(ctx context.Context, dir, split string, features card.Features, emit func(Example) error) error {
	dialoguePath, splitPath := s.files()
	ids, err := readSplitIDs(filepath.Join(dir, splitPath), split)
	if err != nil {
		return err
	}

	f, err := os.Open(filepath.Join(dir, dialoguePath))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := expectDelim(dec, '['); err != nil {
		return &SourceError{File: dialoguePath, Err: err}
	}
	for i := 0; dec.More(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return &SourceError{File: dialoguePath, Err: fmt.Errorf("dialogue %d: %w", i, err)}
		}
		key, ok := raw["id"].(string)
		if !ok || key == "" {
			return &RecordError{Key: fmt.Sprintf("#%d", i), Field: "id", Msg: "missing dialogue id"}
		}
		if _, ok := ids[key]; !ok {
			continue
		}
		rec := make(Record, len(features))
		for _, f := range features {
			v, ok := raw[f.Name]
			if !ok {
				return &RecordError{Key: key, Field: f.Name, Msg: "missing"}
			}
			rec[f.Name] = v
		}
		if err := emit(Example{Key: key, Record: rec}); err != nil {
			return err
		}
	}
	if err := expectDelim(dec, ']'); err != nil {
		return &SourceError{File: dialoguePath, Err: err}
	}
	return nil
}

func readSplitIDs(path, split string) (map[string]struct{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var splits map[string][]string
	if err := json.Unmarshal(b, &splits); err != nil {
		return nil, &SourceError{File: filepath.Base(path), Err: err}
	}
	list, ok := splits[split]
	if !ok {
		return nil, &SourceError{File: filepath.Base(path), Err: fmt.Errorf("split %q not listed", split)}
	}
	ids := make(map[string]struct{}, len(list))
	for _, id := range list {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected end of input, want %q", want)
	}
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("unexpected token %v, want %q", tok, want)
	}
	return nil
}
