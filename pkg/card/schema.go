package card

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Schema is the machine-readable block of a card for one version: the record
// schema, the supervised pair and the split inventory.
type Schema struct {
	Identifier     string
	Version        string
	Features       Features
	SupervisedPair *SupervisedPair
	Splits         []Split
	TotalExamples  int64
	ManualDownload bool
	RequiredFiles  []string
}

// SchemaOf builds the schema block for the given version ("" selects the default).
// Feature tags are normalized to their canonical form; an unknown tag is an error.
func SchemaOf(c *Card, versionTag string) (Schema, error) {
	v, err := c.Version(versionTag)
	if err != nil {
		return Schema{}, fmt.Errorf("%s@%s: %w", c.Identifier, versionTag, err)
	}
	features := make(Features, 0, len(c.Features))
	for _, f := range c.Features {
		t, err := f.Type()
		if err != nil {
			return Schema{}, fmt.Errorf("feature %q: %w", f.Name, err)
		}
		features = append(features, Feature{Name: f.Name, Tag: t.String()})
	}
	s := Schema{
		Identifier:     c.Identifier,
		Version:        v.Tag,
		Features:       features,
		Splits:         append([]Split(nil), v.Splits...),
		TotalExamples:  v.TotalExamples,
		ManualDownload: c.ManualDownload.Required,
		RequiredFiles:  append([]string{}, c.ManualDownload.Files...),
	}
	if sp := c.SupervisedPair; sp != nil {
		pair := *sp
		s.SupervisedPair = &pair
	}
	return s, nil
}

type schemaPair struct {
	Input  string `json:"input"`
	Target string `json:"target"`
}

// MarshalJSON writes features and splits as JSON objects in declaration order.
func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeKV := func(key string, raw []byte, first bool) {
		if !first {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(raw)
	}
	mustJSON := func(v any) []byte {
		b, err := json.Marshal(v)
		if err != nil {
			return []byte("null")
		}
		return b
	}

	writeKV("identifier", mustJSON(s.Identifier), true)
	writeKV("version", mustJSON(s.Version), false)

	var obj bytes.Buffer
	obj.WriteByte('{')
	for i, f := range s.Features {
		if i > 0 {
			obj.WriteByte(',')
		}
		obj.Write(mustJSON(f.Name))
		obj.WriteByte(':')
		obj.Write(mustJSON(f.Tag))
	}
	obj.WriteByte('}')
	writeKV("features", obj.Bytes(), false)

	if s.SupervisedPair != nil {
		writeKV("supervisedPair", mustJSON(schemaPair{Input: s.SupervisedPair.Input, Target: s.SupervisedPair.Target}), false)
	} else {
		writeKV("supervisedPair", []byte("null"), false)
	}

	obj.Reset()
	obj.WriteByte('{')
	for i, sp := range s.Splits {
		if i > 0 {
			obj.WriteByte(',')
		}
		obj.Write(mustJSON(sp.Name))
		obj.WriteByte(':')
		obj.Write(mustJSON(sp.NumExamples))
	}
	obj.WriteByte('}')
	writeKV("splits", obj.Bytes(), false)

	writeKV("totalExamples", mustJSON(s.TotalExamples), false)
	writeKV("manualDownload", mustJSON(s.ManualDownload), false)
	files := s.RequiredFiles
	if files == nil {
		files = []string{}
	}
	writeKV("requiredFiles", mustJSON(files), false)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the layout written by MarshalJSON, keeping object order.
func (s *Schema) UnmarshalJSON(b []byte) error {
	var top struct {
		Identifier     string          `json:"identifier"`
		Version        string          `json:"version"`
		Features       json.RawMessage `json:"features"`
		SupervisedPair *schemaPair     `json:"supervisedPair"`
		Splits         json.RawMessage `json:"splits"`
		TotalExamples  int64           `json:"totalExamples"`
		ManualDownload bool            `json:"manualDownload"`
		RequiredFiles  []string        `json:"requiredFiles"`
	}
	if err := json.Unmarshal(b, &top); err != nil {
		return err
	}
	out := Schema{
		Identifier:     top.Identifier,
		Version:        top.Version,
		TotalExamples:  top.TotalExamples,
		ManualDownload: top.ManualDownload,
		RequiredFiles:  top.RequiredFiles,
	}
	if top.SupervisedPair != nil {
		out.SupervisedPair = &SupervisedPair{Input: top.SupervisedPair.Input, Target: top.SupervisedPair.Target}
	}

	err := orderedObject(top.Features, func(key string, dec *json.Decoder) error {
		var tag string
		if err := dec.Decode(&tag); err != nil {
			return fmt.Errorf("features.%s: %w", key, err)
		}
		out.Features = append(out.Features, Feature{Name: key, Tag: tag})
		return nil
	})
	if err != nil {
		return err
	}
	err = orderedObject(top.Splits, func(key string, dec *json.Decoder) error {
		var n int64
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("splits.%s: %w", key, err)
		}
		out.Splits = append(out.Splits, Split{Name: key, NumExamples: n})
		return nil
	})
	if err != nil {
		return err
	}
	*s = out
	return nil
}

// orderedObject walks a JSON object in document order, handing each value to fn.
func orderedObject(raw json.RawMessage, fn func(key string, dec *json.Decoder) error) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if err := fn(key, dec); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

// String renders the schema in the compact block notation used on card pages.
func (s Schema) String() string {
	var b strings.Builder
	b.WriteString("features: {\n")
	for i, f := range s.Features {
		sep := ","
		if i == len(s.Features)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "  %s: %s%s\n", f.Name, f.Tag, sep)
	}
	b.WriteString("}\n")
	if s.SupervisedPair != nil {
		fmt.Fprintf(&b, "supervisedPair: (%s, %s)\n", s.SupervisedPair.Input, s.SupervisedPair.Target)
	} else {
		b.WriteString("supervisedPair: none\n")
	}
	parts := make([]string, 0, len(s.Splits))
	for _, sp := range s.Splits {
		parts = append(parts, fmt.Sprintf("%s: %d", sp.Name, sp.NumExamples))
	}
	fmt.Fprintf(&b, "splits: { %s }\n", strings.Join(parts, ", "))
	fmt.Fprintf(&b, "manualDownload: %t, requiredFiles: [%s]\n", s.ManualDownload, strings.Join(s.RequiredFiles, ", "))
	return b.String()
}
