package search

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrEmptyQuery is returned when a query has no terms.
var ErrEmptyQuery = errors.New("query is empty")

// Query is a parsed boolean search query. Terms are written in square
// brackets and combined with AND, OR and AND NOT; parentheses group:
//
//	[single-cell] AND ([RNA-seq] OR [ATAC-seq]) AND NOT [review]
//
// Bare words outside brackets are accepted as single-word terms.
type Query struct {
	raw  string
	root node
}

// ParseQuery parses a query string.
func ParseQuery(s string) (*Query, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, ErrEmptyQuery
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("unexpected %q at token %d", p.toks[p.pos].text, p.pos+1)
	}
	return &Query{raw: s, root: root}, nil
}

// String returns the query as written.
func (q *Query) String() string { return q.raw }

// Match reports whether text satisfies the query. Terms match
// case-insensitively as substrings.
func (q *Query) Match(text string) bool {
	return q.root.match(strings.ToLower(text))
}

// Render formats the query for a backend. field wraps a single term.
func (q *Query) Render(field func(term string) string, and, or, andNot string) string {
	return q.root.render(renderer{field: field, and: and, or: or, andNot: andNot}, true)
}

type renderer struct {
	field  func(string) string
	and    string
	or     string
	andNot string
}

type node interface {
	match(lower string) bool
	render(r renderer, top bool) string
}

type termNode struct{ term string }

func (n termNode) match(lower string) bool { return strings.Contains(lower, strings.ToLower(n.term)) }
func (n termNode) render(r renderer, _ bool) string {
	return r.field(n.term)
}

type binaryNode struct {
	op          string // "AND", "OR" or "AND NOT"
	left, right node
}

func (n binaryNode) match(lower string) bool {
	switch n.op {
	case "OR":
		return n.left.match(lower) || n.right.match(lower)
	case "AND NOT":
		return n.left.match(lower) && !n.right.match(lower)
	default:
		return n.left.match(lower) && n.right.match(lower)
	}
}

func (n binaryNode) render(r renderer, top bool) string {
	op := r.and
	switch n.op {
	case "OR":
		op = r.or
	case "AND NOT":
		op = r.andNot
	}
	s := n.left.render(r, false) + " " + op + " " + n.right.render(r, false)
	if top {
		return s
	}
	return "(" + s + ")"
}

type tokenKind int

const (
	tokTerm tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokOpen, text: "("})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokClose, text: ")"})
			i++
		case r == '[':
			end := i + 1
			for end < len(runes) && runes[end] != ']' {
				end++
			}
			if end == len(runes) {
				return nil, fmt.Errorf("unterminated term starting at %d", i)
			}
			term := strings.TrimSpace(string(runes[i+1 : end]))
			if term == "" {
				return nil, fmt.Errorf("empty term at %d", i)
			}
			toks = append(toks, token{kind: tokTerm, text: term})
			i = end + 1
		default:
			end := i
			for end < len(runes) && !unicode.IsSpace(runes[end]) && !strings.ContainsRune("()[]", runes[end]) {
				end++
			}
			word := string(runes[i:end])
			switch word {
			case "AND":
				toks = append(toks, token{kind: tokAnd, text: word})
			case "OR":
				toks = append(toks, token{kind: tokOr, text: word})
			case "NOT":
				toks = append(toks, token{kind: tokNot, text: word})
			default:
				toks = append(toks, token{kind: tokTerm, text: word})
			}
			i = end
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

// parseOr: and { OR and }
func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "OR", left: left, right: right}
	}
}

// parseAnd: primary { AND [NOT] primary }
func (p *parser) parseAnd() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			return left, nil
		}
		p.pos++
		op := "AND"
		if t, ok := p.peek(); ok && t.kind == tokNot {
			p.pos++
			op = "AND NOT"
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, errors.New("unexpected end of query")
	}
	switch t.kind {
	case tokTerm:
		p.pos++
		return termNode{term: t.text}, nil
	case tokOpen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != tokClose {
			return nil, errors.New("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected %q at token %d", t.text, p.pos+1)
	}
}
