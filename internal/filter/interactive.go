package filter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/matsen/paperbee/internal/paper"
)

// Interactive asks a human to keep or drop each paper.
type Interactive struct {
	in  *bufio.Reader
	out io.Writer
}

// NewInteractive creates a reviewer that prompts on out and reads answers from in.
func NewInteractive(in io.Reader, out io.Writer) *Interactive {
	return &Interactive{in: bufio.NewReader(in), out: out}
}

// Classify prompts with the title and keywords only.
func (r *Interactive) Classify(ctx context.Context, title string, keywords []string) (bool, error) {
	return r.ClassifyRow(ctx, paper.Row{Title: title, Keywords: strings.Join(keywords, ", ")})
}

// ClassifyRow shows the paper and asks until it gets y or n.
func (r *Interactive) ClassifyRow(ctx context.Context, row paper.Row) (bool, error) {
	fmt.Fprintln(r.out, "\nArticle Details:")
	fmt.Fprintf(r.out, "Title: %s\n", row.Title)
	if row.PostedDate != "" {
		fmt.Fprintf(r.out, "Posted Date: %s\n", row.PostedDate)
	}
	fmt.Fprintf(r.out, "Keywords: %s\n", row.Keywords)
	if row.DOI != "" {
		fmt.Fprintf(r.out, "Preprint: %s\n", paper.FormatBool(row.IsPreprint))
	}

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprint(r.out, "Retain this article? (y/n): ")
		line, err := r.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		switch answer {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("reading answer: %w", err)
		}
		fmt.Fprintln(r.out, "Invalid input. Please enter 'y' for yes or 'n' for no.")
	}
}
