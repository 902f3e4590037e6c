package schema

import (
	"errors"
	"fmt"
)

// ErrNotSubscription is returned when the operation is not a subscription
// carrying exactly one top-level selection.
var ErrNotSubscription = errors.New("operation is not a single subscription selection")

// SubscriptionName resolves the subscription field name from a GraphQL
// operation document. The document must contain a single subscription
// operation whose selection set holds exactly one top-level field; anything
// else fails with ErrNotSubscription. Arguments, variable definitions,
// aliases, directives, and nested selection sets are tolerated and skipped.
func SubscriptionName(query string) (string, error) {
	s := scanner{src: query}
	s.skipIgnored()

	if s.peek() == '{' {
		// anonymous operation defaults to a query
		return "", ErrNotSubscription
	}
	kw := s.ident()
	if kw != "subscription" {
		return "", ErrNotSubscription
	}
	s.skipIgnored()

	// optional operation name
	if isNameStart(s.peek()) {
		s.ident()
		s.skipIgnored()
	}
	// optional variable definitions
	if s.peek() == '(' {
		if !s.skipBalanced('(', ')') {
			return "", fmt.Errorf("unterminated variable definitions: %w", ErrNotSubscription)
		}
		s.skipIgnored()
	}
	if !s.expect('{') {
		return "", ErrNotSubscription
	}
	s.skipIgnored()

	name := s.ident()
	if name == "" {
		return "", ErrNotSubscription
	}
	s.skipIgnored()

	// alias form: the first identifier was the alias
	if s.peek() == ':' {
		s.pos++
		s.skipIgnored()
		name = s.ident()
		if name == "" {
			return "", ErrNotSubscription
		}
		s.skipIgnored()
	}
	// field arguments
	if s.peek() == '(' {
		if !s.skipBalanced('(', ')') {
			return "", fmt.Errorf("unterminated arguments: %w", ErrNotSubscription)
		}
		s.skipIgnored()
	}
	// directives
	for s.peek() == '@' {
		s.pos++
		s.ident()
		s.skipIgnored()
		if s.peek() == '(' {
			if !s.skipBalanced('(', ')') {
				return "", fmt.Errorf("unterminated directive arguments: %w", ErrNotSubscription)
			}
			s.skipIgnored()
		}
	}
	// nested selection set
	if s.peek() == '{' {
		if !s.skipBalanced('{', '}') {
			return "", fmt.Errorf("unterminated selection set: %w", ErrNotSubscription)
		}
		s.skipIgnored()
	}

	// a second top-level field makes the operation ambiguous
	if !s.expect('}') {
		return "", ErrNotSubscription
	}
	s.skipIgnored()
	if !s.eof() {
		return "", ErrNotSubscription
	}
	return name, nil
}

type scanner struct {
	src string
	pos int
}

func (s *scanner) eof() bool { return s.pos >= len(s.src) }

func (s *scanner) peek() byte {
	if s.eof() {
		return 0
	}
	return s.src[s.pos]
}

func (s *scanner) expect(c byte) bool {
	if s.peek() != c {
		return false
	}
	s.pos++
	return true
}

// skipIgnored advances over whitespace, commas, and # comments, all of
// which are insignificant in GraphQL documents.
func (s *scanner) skipIgnored() {
	for !s.eof() {
		c := s.src[s.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',':
			s.pos++
		case c == '#':
			for !s.eof() && s.src[s.pos] != '\n' {
				s.pos++
			}
		default:
			return
		}
	}
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func (s *scanner) ident() string {
	if !isNameStart(s.peek()) {
		return ""
	}
	start := s.pos
	for !s.eof() && isNameChar(s.src[s.pos]) {
		s.pos++
	}
	return s.src[start:s.pos]
}

// skipBalanced consumes from the current open delimiter to its matching
// close, ignoring delimiters inside string literals.
func (s *scanner) skipBalanced(open, close byte) bool {
	if s.peek() != open {
		return false
	}
	depth := 0
	for !s.eof() {
		c := s.src[s.pos]
		switch c {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				s.pos++
				return true
			}
		case '"':
			s.pos++
			for !s.eof() {
				if s.src[s.pos] == '\\' {
					s.pos++
				} else if s.src[s.pos] == '"' {
					break
				}
				s.pos++
			}
		}
		s.pos++
	}
	return false
}
