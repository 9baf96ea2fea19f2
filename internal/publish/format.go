package publish

import (
	"strings"

	"github.com/matsen/paperbee/internal/paper"
)

// Placeholders for empty groups.
const (
	noPreprints = "No preprints found today."
	noPapers    = "No papers found today."
)

// markdownItem renders a row as an emoji-prefixed markdown link.
func markdownItem(r paper.Row, preprintEmoji, paperEmoji string) string {
	emoji := paperEmoji
	if r.IsPreprint {
		emoji = preprintEmoji
	}
	return emoji + " [" + r.Title + "](" + r.URL + ")"
}

// markdownItems renders every row, or the placeholder if there are none.
func markdownItems(rows []paper.Row, placeholder, preprintEmoji, paperEmoji string) []string {
	if len(rows) == 0 {
		return []string{placeholder}
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = markdownItem(r, preprintEmoji, paperEmoji)
	}
	return out
}

// markdownMessage builds the digest shared by Zulip and Mattermost.
func markdownMessage(d Digest, heading, divider, preprintEmoji, paperEmoji string) string {
	papers, preprints := Partition(d.Rows)

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n\n**Preprints:** 👇\n\n")
	b.WriteString(strings.Join(markdownItems(preprints, noPreprints, preprintEmoji, paperEmoji), "\n"))
	b.WriteString("\n\n" + divider + "\n\n**Papers:** 👇\n\n")
	b.WriteString(strings.Join(markdownItems(papers, noPapers, preprintEmoji, paperEmoji), "\n"))
	b.WriteString("\n\n" + divider + "\n\n")
	if d.SheetURL != "" {
		b.WriteString("View all papers: [Google Sheet](" + d.SheetURL + ") 📖\n")
	}
	b.WriteString("Enjoy your reading! 👋")
	return b.String()
}
