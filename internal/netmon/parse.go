package netmon

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// ErrParse is wrapped by every ParseError.
var ErrParse = errors.New("unparseable monitor line")

// ParseError reports a line the monitor grammar cannot match. It is always
// recoverable: the caller logs it and moves on to the next line.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrParse, e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

const (
	tokDeleted = "Deleted"
	tokInet    = "inet"
	tokInet6   = "inet6"
	tokScope   = "scope"
)

// ParseLine converts one line of `ip monitor address` output into an
// AddressChange.
//
// Grammar (tokens separated by whitespace, order-insensitive):
//
//	line   := label* [ "Deleted" ] ( "inet" v4/len | "inet6" v6/len ) "scope" ( "global" | "link" ) other*
//	label  := "[" UPPER+ "]"
//
// A line with both an address and a scope yields a change. A line missing
// either (lifetime lines, link lines) yields nil, nil. Anything the grammar
// cannot match yields a *ParseError.
func ParseLine(line string) (AddressChange, error) {
	if !utf8.ValidString(line) {
		return nil, &ParseError{Line: line, Reason: "not valid UTF-8"}
	}

	fields := strings.Fields(stripLabels(strings.TrimSpace(line)))

	addition := true
	family := ""
	addr := ""
	var scope Scope

	for i := 0; i < len(fields); i++ {
		switch tok := fields[i]; tok {
		case tokDeleted:
			addition = false

		case tokInet, tokInet6:
			if family != "" {
				return nil, &ParseError{Line: line, Reason: fmt.Sprintf("%s clause after %s clause", tok, family)}
			}
			if i+1 >= len(fields) {
				return nil, &ParseError{Line: line, Reason: tok + " without an address"}
			}
			i++
			literal, err := addressLiteral(tok, fields[i])
			if err != nil {
				return nil, &ParseError{Line: line, Reason: err.Error()}
			}
			family, addr = tok, literal

		case tokScope:
			if scope != 0 {
				return nil, &ParseError{Line: line, Reason: "more than one scope clause"}
			}
			if i+1 >= len(fields) {
				return nil, &ParseError{Line: line, Reason: "scope without a value"}
			}
			i++
			switch fields[i] {
			case "global":
				scope = ScopeGlobal
			case "link":
				scope = ScopeLink
			default:
				return nil, &ParseError{Line: line, Reason: fmt.Sprintf("unsupported scope %q", fields[i])}
			}
		}
	}

	log.WithFields(log.Fields{
		"addition": addition,
		"family":   family,
		"address":  addr,
		"scope":    scope,
	}).Trace("Parsed monitor line")

	if addr == "" || scope == 0 {
		return nil, nil
	}

	a := Address{Addr: addr, Scope: scope}
	switch {
	case family == tokInet6 && addition:
		return AdditionV6{a}, nil
	case family == tokInet6:
		return DeletionV6{a}, nil
	case addition:
		return AdditionV4{a}, nil
	default:
		return DeletionV4{a}, nil
	}
}

// stripLabels removes leading "[ADDR]"-style labels, which iproute2 glues
// onto the first token when run with `label`.
func stripLabels(s string) string {
	for strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 2 || !isLabel(s[1:end]) {
			return s
		}
		s = s[end+1:]
	}
	return s
}

func isLabel(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// addressLiteral checks "<literal>/<prefix-len>" lexically for the given
// family and returns the literal. It does not validate the address beyond
// its character class and shape.
func addressLiteral(family, tok string) (string, error) {
	literal, prefix, ok := strings.Cut(tok, "/")
	if !ok {
		return "", fmt.Errorf("%s address %q has no prefix length", family, tok)
	}
	if !isDigits(prefix) {
		return "", fmt.Errorf("%s address %q has a bad prefix length", family, tok)
	}
	if family == tokInet && !isIPv4Literal(literal) {
		return "", fmt.Errorf("%q is not an IPv4 literal", literal)
	}
	if family == tokInet6 && !isIPv6Literal(literal) {
		return "", fmt.Errorf("%q is not an IPv6 literal", literal)
	}
	return literal, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isIPv4Literal(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if len(p) > 3 || !isDigits(p) {
			return false
		}
	}
	return true
}

func isIPv6Literal(s string) bool {
	if len(s) < 2 || !strings.Contains(s, ":") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F', r == ':', r == '.':
		default:
			return false
		}
	}
	return true
}
