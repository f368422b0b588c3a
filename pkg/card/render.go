package card

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// RenderMarkdown renders the human-readable card page. The output depends only on
// the card contents, so rendering the same card twice yields identical text.
func RenderMarkdown(c *Card) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# `%s`\n\n", c.Identifier)
	if c.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", c.Description)
	}

	if c.Homepage != "" {
		fmt.Fprintf(&b, "- **Homepage**: [%s](%s)\n", c.Homepage, c.Homepage)
	}
	for _, u := range c.SourceURLs {
		fmt.Fprintf(&b, "- **Source**: [%s](%s)\n", u, u)
	}
	if len(c.Versions) > 0 {
		b.WriteString("- **Versions**:\n")
		for _, v := range c.Versions {
			def := ""
			if v.Default {
				def = " (default)"
			}
			notes := v.Notes
			if notes == "" {
				notes = "No release notes."
			}
			fmt.Fprintf(&b, "    - **`%s`**%s: %s\n", v.Tag, def, notes)
		}
	}
	fmt.Fprintf(&b, "- **Download size**: `%s`\n", sizeString(c.DownloadSize))
	fmt.Fprintf(&b, "- **Dataset size**: `%s`\n", sizeString(c.DatasetSize))
	if c.License != "" {
		fmt.Fprintf(&b, "- **License**: %s\n", c.License)
	}
	b.WriteString("\n")

	if c.ManualDownload.Required {
		b.WriteString("## Manual download instructions\n\n")
		b.WriteString("This dataset requires you to download the source data manually and place the\n")
		b.WriteString("following files in the manual directory before loading:\n\n")
		for _, f := range c.ManualDownload.Files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		b.WriteString("\n")
		if c.ManualDownload.Instructions != "" {
			fmt.Fprintf(&b, "%s\n\n", c.ManualDownload.Instructions)
		}
	} else {
		b.WriteString("- **Manual download**: No\n\n")
	}

	for _, v := range c.Versions {
		fmt.Fprintf(&b, "## Splits (version `%s`)\n\n", v.Tag)
		b.WriteString("| Split | Examples |\n")
		b.WriteString("|:------|---------:|\n")
		for _, s := range v.Splits {
			fmt.Fprintf(&b, "| `'%s'` | %s |\n", s.Name, humanize.Comma(s.NumExamples))
		}
		fmt.Fprintf(&b, "\nTotal examples: %s (%s)\n\n", humanize.Comma(v.TotalExamples), ShortCount(v.TotalExamples))
	}

	b.WriteString("## Features\n\n")
	b.WriteString("| Feature | Type |\n")
	b.WriteString("|:--------|:-----|\n")
	for _, f := range c.Features {
		tag := f.Tag
		if t, err := f.Type(); err == nil {
			tag = t.String()
		}
		fmt.Fprintf(&b, "| `%s` | %s |\n", f.Name, tag)
	}
	b.WriteString("\n")

	if sp := c.SupervisedPair; sp != nil {
		fmt.Fprintf(&b, "- **Supervised keys**: `('%s', '%s')`\n\n", sp.Input, sp.Target)
	} else {
		b.WriteString("- **Supervised keys**: `None`\n\n")
	}

	if c.EthicsNotes != "" {
		fmt.Fprintf(&b, "## Ethics notes\n\n%s\n\n", c.EthicsNotes)
	}
	if c.Citation != "" {
		fmt.Fprintf(&b, "## Citation\n\n```\n%s\n```\n", c.Citation)
	}
	return b.String()
}

// ShortCount formats an example count the way dataset catalogs usually abbreviate
// it, e.g. 463596 -> "463.6K".
func ShortCount(n int64) string {
	if n < 1000 && n > -1000 {
		return fmt.Sprintf("%d", n)
	}
	s := humanize.SIWithDigits(float64(n), 1, "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, "k", "K")
}

func sizeString(n int64) string {
	if n <= 0 {
		return "Unknown size"
	}
	return humanize.IBytes(uint64(n))
}
