package card

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlCard is the on-disk YAML layout. Mapping-valued sections are kept as nodes so
// the document order of features and splits survives decoding.
type yamlCard struct {
	Identifier     string             `yaml:"identifier"`
	Description    string             `yaml:"description,omitempty"`
	Homepage       string             `yaml:"homepage,omitempty"`
	SourceURLs     []string           `yaml:"source_urls,omitempty"`
	Citation       string             `yaml:"citation,omitempty"`
	License        string             `yaml:"license,omitempty"`
	EthicsNotes    string             `yaml:"ethics_notes,omitempty"`
	DownloadSize   int64              `yaml:"download_size,omitempty"`
	DatasetSize    int64              `yaml:"dataset_size,omitempty"`
	ManualDownload *yamlManual        `yaml:"manual_download,omitempty"`
	Features       yaml.Node          `yaml:"features"`
	SupervisedPair *yamlSupervised    `yaml:"supervised_pair,omitempty"`
	Versions       []yamlVersionEntry `yaml:"versions"`
}

type yamlManual struct {
	Required     bool     `yaml:"required"`
	Files        []string `yaml:"files,omitempty"`
	Instructions string   `yaml:"instructions,omitempty"`
}

type yamlSupervised struct {
	Input  string `yaml:"input"`
	Target string `yaml:"target"`
}

type yamlVersionEntry struct {
	Tag           string    `yaml:"tag"`
	Default       bool      `yaml:"default,omitempty"`
	Notes         string    `yaml:"notes,omitempty"`
	TotalExamples int64     `yaml:"total_examples"`
	Splits        yaml.Node `yaml:"splits"`
}

// Decode reads one YAML card. It does not validate; call Validate on the result.
func Decode(r io.Reader) (*Card, error) {
	var doc yamlCard
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("decode card: empty document")
		}
		return nil, fmt.Errorf("decode card: %w", err)
	}

	c := &Card{
		Identifier:   strings.TrimSpace(doc.Identifier),
		Description:  strings.TrimSpace(doc.Description),
		Homepage:     strings.TrimSpace(doc.Homepage),
		SourceURLs:   doc.SourceURLs,
		Citation:     strings.TrimSpace(doc.Citation),
		License:      strings.TrimSpace(doc.License),
		EthicsNotes:  strings.TrimSpace(doc.EthicsNotes),
		DownloadSize: doc.DownloadSize,
		DatasetSize:  doc.DatasetSize,
	}
	if m := doc.ManualDownload; m != nil {
		c.ManualDownload = ManualDownload{
			Required:     m.Required,
			Files:        m.Files,
			Instructions: strings.TrimSpace(m.Instructions),
		}
	}
	if sp := doc.SupervisedPair; sp != nil {
		c.SupervisedPair = &SupervisedPair{Input: strings.TrimSpace(sp.Input), Target: strings.TrimSpace(sp.Target)}
	}

	pairs, err := mappingPairs(&doc.Features, "features")
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		c.Features = append(c.Features, Feature{Name: p[0], Tag: p[1]})
	}

	for i, v := range doc.Versions {
		ver := Version{
			Tag:           strings.TrimSpace(v.Tag),
			Default:       v.Default,
			Notes:         strings.TrimSpace(v.Notes),
			TotalExamples: v.TotalExamples,
		}
		pairs, err := mappingPairs(&v.Splits, fmt.Sprintf("versions[%d].splits", i))
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			n, err := strconv.ParseInt(p[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("decode card: versions[%d].splits.%s: invalid count %q", i, p[0], p[1])
			}
			ver.Splits = append(ver.Splits, Split{Name: p[0], NumExamples: n})
		}
		c.Versions = append(c.Versions, ver)
	}
	return c, nil
}

// mappingPairs returns the scalar key/value pairs of a mapping node in document order.
func mappingPairs(n *yaml.Node, field string) ([][2]string, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("decode card: %s must be a mapping (line %d)", field, n.Line)
	}
	out := make([][2]string, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("decode card: %s entries must be scalar (line %d)", field, k.Line)
		}
		out = append(out, [2]string{strings.TrimSpace(k.Value), strings.TrimSpace(v.Value)})
	}
	return out, nil
}

// LoadFile decodes the card stored at path.
func LoadFile(path string) (*Card, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	c, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Encode writes the card as YAML in the layout read by Decode.
func Encode(w io.Writer, c *Card) error {
	doc := yamlCard{
		Identifier:   c.Identifier,
		Description:  c.Description,
		Homepage:     c.Homepage,
		SourceURLs:   c.SourceURLs,
		Citation:     c.Citation,
		License:      c.License,
		EthicsNotes:  c.EthicsNotes,
		DownloadSize: c.DownloadSize,
		DatasetSize:  c.DatasetSize,
		Features:     mappingNode(featurePairs(c.Features)),
	}
	if c.ManualDownload.Required || len(c.ManualDownload.Files) > 0 || c.ManualDownload.Instructions != "" {
		doc.ManualDownload = &yamlManual{
			Required:     c.ManualDownload.Required,
			Files:        c.ManualDownload.Files,
			Instructions: c.ManualDownload.Instructions,
		}
	}
	if sp := c.SupervisedPair; sp != nil {
		doc.SupervisedPair = &yamlSupervised{Input: sp.Input, Target: sp.Target}
	}
	for _, v := range c.Versions {
		pairs := make([][2]string, 0, len(v.Splits))
		for _, s := range v.Splits {
			pairs = append(pairs, [2]string{s.Name, strconv.FormatInt(s.NumExamples, 10)})
		}
		splits := mappingNode(pairs)
		for i := 1; i < len(splits.Content); i += 2 {
			splits.Content[i].Tag = "!!int"
		}
		doc.Versions = append(doc.Versions, yamlVersionEntry{
			Tag:           v.Tag,
			Default:       v.Default,
			Notes:         v.Notes,
			TotalExamples: v.TotalExamples,
			Splits:        splits,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode card: %w", err)
	}
	return enc.Close()
}

// Marshal returns the YAML encoding of the card.
func Marshal(c *Card) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func featurePairs(fs Features) [][2]string {
	out := make([][2]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, [2]string{f.Name, f.Tag})
	}
	return out
}

func mappingNode(pairs [][2]string) yaml.Node {
	n := yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range pairs {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p[0]},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p[1]},
		)
	}
	return n
}
