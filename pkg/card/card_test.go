package card_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
)

func fixturePath(parts ...string) string {
	return filepath.Join(append([]string{"..", "..", "test", "fixtures"}, parts...)...)
}

func loadFixture(t *testing.T, parts ...string) *card.Card {
	t.Helper()
	c, err := card.LoadFile(fixturePath(parts...))
	if err != nil {
		t.Fatalf("load fixture %v: %v", parts, err)
	}
	return c
}

func TestLoadFile_MediaSum(t *testing.T) {
	c := loadFixture(t, "cards", "media_sum.yaml")
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Identifier != "media_sum" {
		t.Fatalf("identifier=%q", c.Identifier)
	}

	wantFeatures := []string{"date", "id", "program", "speaker", "summary", "url", "utt"}
	if got := c.Features.Names(); strings.Join(got, ",") != strings.Join(wantFeatures, ",") {
		t.Fatalf("feature order=%v want=%v", got, wantFeatures)
	}
	for _, name := range []string{"speaker", "utt"} {
		f, _ := c.Features.Lookup(name)
		typ, err := f.Type()
		if err != nil || !typ.Equal(card.TextList) {
			t.Fatalf("%s type=%v err=%v", name, typ, err)
		}
	}
	if c.SupervisedPair == nil || c.SupervisedPair.Input != "utt" || c.SupervisedPair.Target != "summary" {
		t.Fatalf("supervised pair=%#v", c.SupervisedPair)
	}

	v, err := c.Version("")
	if err != nil {
		t.Fatalf("default version: %v", err)
	}
	if v.Tag != "1.0.0" || v.SplitSum() != 463596 || v.TotalExamples != 463596 {
		t.Fatalf("unexpected version: %#v", v)
	}
	if got := strings.Join(v.SplitNames(), ","); got != "train,val,test" {
		t.Fatalf("split order=%q", got)
	}
	if !c.ManualDownload.Required || len(c.ManualDownload.Files) != 2 ||
		c.ManualDownload.Files[0] != "news_dialogue.json" || c.ManualDownload.Files[1] != "train_val_test_split.json" {
		t.Fatalf("manual download=%#v", c.ManualDownload)
	}
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	c := loadFixture(t, "invalid", "broken.yaml")
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	got := map[card.Invariant]bool{}
	for _, v := range card.Violations(err) {
		got[v.Invariant] = true
	}
	for _, want := range []card.Invariant{
		card.InvariantDefaultVersion,
		card.InvariantFeatures,
		card.InvariantSupervisedPair,
		card.InvariantSplitTotal,
		card.InvariantManualDownload,
	} {
		if !got[want] {
			t.Fatalf("missing violation %q in %v", want, err)
		}
	}
	if !errors.Is(err, card.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType in chain: %v", err)
	}
}

func validCard() *card.Card {
	return &card.Card{
		Identifier: "demo",
		Features: card.Features{
			{Name: "utt", Tag: "sequence<text>"},
			{Name: "summary", Tag: "text"},
		},
		SupervisedPair: &card.SupervisedPair{Input: "utt", Target: "summary"},
		Versions: []card.Version{{
			Tag:           "1.0.0",
			Default:       true,
			Splits:        []card.Split{{Name: "train", NumExamples: 2}, {Name: "test", NumExamples: 1}},
			TotalExamples: 3,
		}},
	}
}

func TestValidate_Invariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *card.Card)
		want   card.Invariant
	}{
		{name: "missing identifier", mutate: func(c *card.Card) { c.Identifier = "" }, want: card.InvariantIdentifier},
		{name: "identifier not snake case", mutate: func(c *card.Card) { c.Identifier = "Media-Sum" }, want: card.InvariantIdentifier},
		{name: "no versions", mutate: func(c *card.Card) { c.Versions = nil }, want: card.InvariantVersions},
		{name: "bad version tag", mutate: func(c *card.Card) { c.Versions[0].Tag = "v1" }, want: card.InvariantVersions},
		{name: "no default", mutate: func(c *card.Card) { c.Versions[0].Default = false }, want: card.InvariantDefaultVersion},
		{
			name: "two defaults",
			mutate: func(c *card.Card) {
				v := c.Versions[0]
				v.Tag = "1.1.0"
				c.Versions = append(c.Versions, v)
			},
			want: card.InvariantDefaultVersion,
		},
		{
			name: "duplicate version",
			mutate: func(c *card.Card) {
				v := c.Versions[0]
				v.Default = false
				c.Versions = append(c.Versions, v)
			},
			want: card.InvariantVersions,
		},
		{name: "no features", mutate: func(c *card.Card) { c.Features = nil; c.SupervisedPair = nil }, want: card.InvariantFeatures},
		{name: "unknown type", mutate: func(c *card.Card) { c.Features[1].Tag = "image" }, want: card.InvariantFeatures},
		{
			name:   "duplicate feature",
			mutate: func(c *card.Card) { c.Features = append(c.Features, card.Feature{Name: "utt", Tag: "text"}) },
			want:   card.InvariantFeatures,
		},
		{name: "pair input missing", mutate: func(c *card.Card) { c.SupervisedPair.Input = "dialogue" }, want: card.InvariantSupervisedPair},
		{name: "pair target missing", mutate: func(c *card.Card) { c.SupervisedPair.Target = "label" }, want: card.InvariantSupervisedPair},
		{name: "negative count", mutate: func(c *card.Card) { c.Versions[0].Splits[1].NumExamples = -1; c.Versions[0].TotalExamples = 1 }, want: card.InvariantSplits},
		{
			name:   "duplicate split",
			mutate: func(c *card.Card) { c.Versions[0].Splits[1].Name = "train" },
			want:   card.InvariantSplits,
		},
		{name: "split total mismatch", mutate: func(c *card.Card) { c.Versions[0].TotalExamples = 4 }, want: card.InvariantSplitTotal},
		{name: "manual without files", mutate: func(c *card.Card) { c.ManualDownload.Required = true }, want: card.InvariantManualDownload},
		{
			name: "manual empty file name",
			mutate: func(c *card.Card) {
				c.ManualDownload = card.ManualDownload{Required: true, Files: []string{"a.json", ""}}
			},
			want: card.InvariantManualDownload,
		},
	}

	if err := validCard().Validate(); err != nil {
		t.Fatalf("baseline card must validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCard()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatalf("expected violation %q", tt.want)
			}
			found := false
			for _, v := range card.Violations(err) {
				if v.Invariant == tt.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("violation %q not reported: %v", tt.want, err)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "text", want: "text"},
		{in: "String", want: "text"},
		{in: "int64", want: "integer"},
		{in: "float", want: "float"},
		{in: "boolean", want: "bool"},
		{in: "sequence<text>", want: "sequence<text>"},
		{in: "sequence-of-text", want: "sequence<text>"},
		{in: "sequence<sequence<integer>>", want: "sequence<sequence<integer>>"},
		{in: "sequence<text", wantErr: true},
		{in: "image", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := card.ParseType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, card.ErrUnknownType) {
					t.Fatalf("ParseType(%q) err=%v want ErrUnknownType", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseType(%q): %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Fatalf("ParseType(%q)=%q want=%q", tt.in, got.String(), tt.want)
			}
		})
	}
}

func TestVersionLookup(t *testing.T) {
	c := validCard()
	c.Versions = append(c.Versions, card.Version{Tag: "0.9.0", TotalExamples: 0})

	if v, err := c.Version("default"); err != nil || v.Tag != "1.0.0" {
		t.Fatalf("default lookup: %#v %v", v, err)
	}
	if v, err := c.Version("0.9.0"); err != nil || v.Tag != "0.9.0" {
		t.Fatalf("explicit lookup: %#v %v", v, err)
	}
	if _, err := c.Version("2.0.0"); !errors.Is(err, card.ErrUnknownVersion) {
		t.Fatalf("expected ErrUnknownVersion, got %v", err)
	}
	if _, ok := c.Versions[0].Split("dev"); ok {
		t.Fatalf("dev split must not exist")
	}
}

func TestEncodeDecodePreservesOrder(t *testing.T) {
	c := loadFixture(t, "cards", "media_sum.yaml")

	var buf bytes.Buffer
	if err := card.Encode(&buf, c); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := card.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if strings.Join(back.Features.Names(), ",") != strings.Join(c.Features.Names(), ",") {
		t.Fatalf("feature order changed: %v", back.Features.Names())
	}
	if strings.Join(back.Versions[0].SplitNames(), ",") != "train,val,test" {
		t.Fatalf("split order changed: %v", back.Versions[0].SplitNames())
	}
	if card.RenderMarkdown(back) != card.RenderMarkdown(c) {
		t.Fatalf("rendering differs after round trip")
	}
}

func TestDecode_RejectsUnknownKeysAndBadShapes(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "identifier: x\nfeaturez: {}\n",
		"features list":   "identifier: x\nfeatures: [a, b]\nversions: []\n",
		"bad split count": "identifier: x\nfeatures: {a: text}\nversions:\n  - tag: 1.0.0\n    splits: {train: many}\n",
		"empty document":  "",
		"nested feature":  "identifier: x\nfeatures: {a: {b: text}}\nversions: []\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := card.Decode(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected decode error")
			}
		})
	}
}

func TestClone_IsIndependent(t *testing.T) {
	c := validCard()
	cp := c.Clone()
	cp.Versions[0].Splits[0].NumExamples = 99
	cp.Features[0].Name = "changed"
	cp.SupervisedPair.Input = "changed"
	if c.Versions[0].Splits[0].NumExamples != 2 || c.Features[0].Name != "utt" || c.SupervisedPair.Input != "utt" {
		t.Fatalf("clone shares state with original: %#v", c)
	}
}
