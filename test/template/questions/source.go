// Package questions is a starting point for datasets whose splits ship as one
// JSON array per split. Copy it and change the record mapping.
package questions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
)

type row struct {
	URL         string `json:"url"`
	Utterance   string `json:"utterance"`
	TargetValue string `json:"targetValue"`
}

var descriptionRe = regexp.MustCompile(`\(description "?(.*?)"?\)`)

// Answers extracts the description values of a Freebase target expression,
// e.g. `(list (description "Jazmine Sullivan") (description Jamaica))`.
func Answers(target string) []any {
	matches := descriptionRe.FindAllStringSubmatch(target, -1)
	out := make([]any, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// Source reads <dir>/<split>.json.
type Source struct{}

func (Source) Examples(ctx context.Context, dir, split string, _ card.Features, emit func(loader.Example) error) error {
	b, err := os.ReadFile(filepath.Join(dir, split+".json"))
	if err != nil {
		return err
	}
	var rows []row
	if err := json.Unmarshal(b, &rows); err != nil {
		return fmt.Errorf("%s.json: %w", split, err)
	}
	for i, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		ex := loader.Example{
			Key: fmt.Sprintf("%s-%d", split, i),
			Record: loader.Record{
				"url":      r.URL,
				"question": r.Utterance,
				"answers":  Answers(r.TargetValue),
			},
		}
		if err := emit(ex); err != nil {
			return err
		}
	}
	return nil
}
