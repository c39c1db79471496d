package descriptor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/labstream/errors"
)

// Property returns the string value of a core or hosting field by its
// XML leaf name. The second return reports whether the key is known.
func (d *StreamDescriptor) Property(key string) (string, bool) {
	switch key {
	case "name":
		return d.name, true
	case "type":
		return d.streamType, true
	case "channel_count":
		return strconv.Itoa(d.channelCount), true
	case "nominal_srate":
		return strconv.FormatFloat(d.nominalRate, 'f', -1, 64), true
	case "channel_format":
		return d.format.String(), true
	case "source_id":
		return d.sourceID, true
	case "version":
		return strconv.Itoa(d.version), true
	case "created_at":
		return strconv.FormatFloat(d.createdAt, 'f', 6, 64), true
	case "uid":
		return d.uid, true
	case "session_id":
		return d.sessionID, true
	case "hostname":
		return d.hostname, true
	default:
		return "", false
	}
}

// MatchesProperty reports whether the named field equals the given
// value. Unknown keys never match.
func (d *StreamDescriptor) MatchesProperty(key, value string) bool {
	v, ok := d.Property(key)
	return ok && v == value
}

// MatchesPredicate evaluates an XPath-1.0-style boolean expression
// over the descriptor's XML form. Supported: leaf paths relative to
// <info> (optionally prefixed with // or /, and reaching into the desc
// subtree as desc/a/b), string and numeric comparisons with
// = != < <= > >=, and/or/not(), parentheses, starts-with() and
// contains(). A bare path is true when the addressed leaf exists with
// non-empty text.
func (d *StreamDescriptor) MatchesPredicate(pred string) (bool, error) {
	p := &predicateParser{input: pred, desc: d}
	p.next()
	result, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.tok.kind != tokEOF {
		return false, p.errorf("trailing input at %q", p.tok.text)
	}
	return result, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokPath
	tokString
	tokNumber
	tokOp     // = != < <= > >=
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

type predicateParser struct {
	input string
	pos   int
	tok   token
	desc  *StreamDescriptor
}

func (p *predicateParser) errorf(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%s in predicate %q: %w", fmt.Sprintf(format, args...), p.input, errors.ErrInvalidPredicate),
		"StreamDescriptor", "MatchesPredicate", "predicate parse")
}

func isPathRune(r byte) bool {
	return r == '_' || r == '-' || r == '/' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// next advances to the following token.
func (p *predicateParser) next() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
	if p.pos >= len(p.input) {
		p.tok = token{kind: tokEOF}
		return
	}

	c := p.input[p.pos]
	switch {
	case c == '(':
		p.pos++
		p.tok = token{kind: tokLParen, text: "("}
	case c == ')':
		p.pos++
		p.tok = token{kind: tokRParen, text: ")"}
	case c == ',':
		p.pos++
		p.tok = token{kind: tokComma, text: ","}
	case c == '\'' || c == '"':
		quote := c
		end := p.pos + 1
		for end < len(p.input) && p.input[end] != quote {
			end++
		}
		if end >= len(p.input) {
			p.tok = token{kind: tokString, text: p.input[p.pos+1:]}
			p.pos = len(p.input)
			return
		}
		p.tok = token{kind: tokString, text: p.input[p.pos+1 : end]}
		p.pos = end + 1
	case c == '=':
		p.pos++
		p.tok = token{kind: tokOp, text: "="}
	case c == '!':
		if p.pos+1 < len(p.input) && p.input[p.pos+1] == '=' {
			p.pos += 2
			p.tok = token{kind: tokOp, text: "!="}
		} else {
			p.pos++
			p.tok = token{kind: tokOp, text: "!"}
		}
	case c == '<' || c == '>':
		op := string(c)
		p.pos++
		if p.pos < len(p.input) && p.input[p.pos] == '=' {
			op += "="
			p.pos++
		}
		p.tok = token{kind: tokOp, text: op}
	case c >= '0' && c <= '9':
		end := p.pos
		for end < len(p.input) && (p.input[end] >= '0' && p.input[end] <= '9' || p.input[end] == '.') {
			end++
		}
		p.tok = token{kind: tokNumber, text: p.input[p.pos:end]}
		p.pos = end
	default:
		end := p.pos
		for end < len(p.input) && isPathRune(p.input[end]) {
			end++
		}
		if end == p.pos {
			p.tok = token{kind: tokOp, text: string(c)}
			p.pos++
			return
		}
		p.tok = token{kind: tokPath, text: p.input[p.pos:end]}
		p.pos = end
	}
}

func (p *predicateParser) parseOr() (bool, error) {
	result, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for p.tok.kind == tokPath && p.tok.text == "or" {
		p.next()
		rhs, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		result = result || rhs
	}
	return result, nil
}

func (p *predicateParser) parseAnd() (bool, error) {
	result, err := p.parseUnary()
	if err != nil {
		return false, err
	}
	for p.tok.kind == tokPath && p.tok.text == "and" {
		p.next()
		rhs, err := p.parseUnary()
		if err != nil {
			return false, err
		}
		result = result && rhs
	}
	return result, nil
}

func (p *predicateParser) parseUnary() (bool, error) {
	if p.tok.kind == tokPath && p.tok.text == "not" {
		p.next()
		if p.tok.kind != tokLParen {
			return false, p.errorf("expected ( after not")
		}
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if p.tok.kind != tokRParen {
			return false, p.errorf("unterminated not()")
		}
		p.next()
		return !inner, nil
	}
	return p.parsePrimary()
}

func (p *predicateParser) parsePrimary() (bool, error) {
	switch p.tok.kind {
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if p.tok.kind != tokRParen {
			return false, p.errorf("unbalanced parentheses")
		}
		p.next()
		return inner, nil

	case tokPath:
		name := p.tok.text
		if name == "starts-with" || name == "contains" {
			return p.parseStringFunc(name)
		}
		p.next()
		return p.parseComparison(name)

	default:
		return false, p.errorf("unexpected token %q", p.tok.text)
	}
}

// parseStringFunc handles starts-with(path, 'literal') and
// contains(path, 'literal').
func (p *predicateParser) parseStringFunc(fn string) (bool, error) {
	p.next()
	if p.tok.kind != tokLParen {
		return false, p.errorf("expected ( after %s", fn)
	}
	p.next()
	if p.tok.kind != tokPath {
		return false, p.errorf("expected path as first argument of %s", fn)
	}
	value, _ := p.lookup(p.tok.text)
	p.next()
	if p.tok.kind != tokComma {
		return false, p.errorf("expected , in %s", fn)
	}
	p.next()
	if p.tok.kind != tokString {
		return false, p.errorf("expected string literal in %s", fn)
	}
	arg := p.tok.text
	p.next()
	if p.tok.kind != tokRParen {
		return false, p.errorf("unterminated %s()", fn)
	}
	p.next()

	if fn == "starts-with" {
		return strings.HasPrefix(value, arg), nil
	}
	return strings.Contains(value, arg), nil
}

// parseComparison handles path [op literal], where a bare path tests
// for a non-empty leaf.
func (p *predicateParser) parseComparison(path string) (bool, error) {
	if p.tok.kind != tokOp {
		value, ok := p.lookup(path)
		return ok && value != "", nil
	}

	op := p.tok.text
	p.next()

	var rhs string
	switch p.tok.kind {
	case tokString, tokNumber:
		rhs = p.tok.text
	case tokPath:
		// Right-hand side may itself be a path.
		rhs, _ = p.lookup(p.tok.text)
	default:
		return false, p.errorf("expected comparison operand after %q", op)
	}
	p.next()

	lhs, _ := p.lookup(path)
	return compare(lhs, op, rhs, p)
}

func compare(lhs, op, rhs string, p *predicateParser) (bool, error) {
	// Numeric comparison when both sides parse as numbers.
	lf, lerr := strconv.ParseFloat(lhs, 64)
	rf, rerr := strconv.ParseFloat(rhs, 64)
	numeric := lerr == nil && rerr == nil

	switch op {
	case "=":
		if numeric {
			return lf == rf, nil
		}
		return lhs == rhs, nil
	case "!=":
		if numeric {
			return lf != rf, nil
		}
		return lhs != rhs, nil
	case "<":
		if numeric {
			return lf < rf, nil
		}
		return lhs < rhs, nil
	case "<=":
		if numeric {
			return lf <= rf, nil
		}
		return lhs <= rhs, nil
	case ">":
		if numeric {
			return lf > rf, nil
		}
		return lhs > rhs, nil
	case ">=":
		if numeric {
			return lf >= rf, nil
		}
		return lhs >= rhs, nil
	default:
		return false, p.errorf("unknown operator %q", op)
	}
}

// lookup resolves a path against the descriptor. Paths address the
// info leaves directly (name, type, ...) or reach into the description
// tree as desc/section/leaf. Leading / and // and an explicit info
// segment are accepted and ignored.
func (p *predicateParser) lookup(path string) (string, bool) {
	trimmed := strings.TrimLeft(path, "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) > 0 && segments[0] == "info" {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return "", false
	}

	if segments[0] == "desc" {
		n := p.desc.Desc()
		for _, seg := range segments[1:] {
			n = n.Child(seg)
			if n.Empty() {
				return "", false
			}
		}
		return n.Value(), true
	}

	if len(segments) != 1 {
		return "", false
	}
	return p.desc.Property(segments[0])
}
