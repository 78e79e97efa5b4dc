// Package topic matches published topics against subscription patterns.
//
// Topics are '/' separated. In patterns '+' matches exactly one level and
// '*' matches one or more trailing levels.
package topic

import (
	"errors"
	"strings"
)

const (
	separator   = '/'
	singleLevel = "+"
	multiLevel  = "*"
)

var (
	ErrEmpty         = errors.New("topic is empty")
	ErrTooShort      = errors.New("topic is too short")
	ErrTooLong       = errors.New("topic is too long")
	ErrNoRoot        = errors.New("topic does not start with '/'")
	ErrTrailingSlash = errors.New("topic ends with '/'")
	ErrEmptyLevel    = errors.New("topic has an empty level")
	ErrWildcard      = errors.New("'*' is only allowed as the last level")
)

// Match reports whether the published topic matches pattern.
// It does not allocate.
func Match(topic, pattern string) bool {
	if topic == pattern {
		return true
	}

	t, p := newLevels(topic), newLevels(pattern)
	for !t.done && !p.done {
		pl, tl := p.next(), t.next()
		switch pl {
		case multiLevel:
			return true
		case singleLevel:
			continue
		}
		if pl != tl {
			return false
		}
	}

	return t.done && p.done
}

// levels walks the '/' separated levels of a topic. A single leading
// separator is skipped and empty inner levels are kept.
type levels struct {
	s    string
	done bool
}

func newLevels(s string) levels {
	if len(s) > 0 && s[0] == separator {
		s = s[1:]
	}
	return levels{s: s, done: s == ""}
}

func (l *levels) next() string {
	i := strings.IndexByte(l.s, separator)
	if i < 0 {
		lvl := l.s
		l.s, l.done = "", true
		return lvl
	}

	lvl := l.s[:i]
	l.s = l.s[i+1:]
	return lvl
}

// Validate checks a subscription pattern of at most max bytes.
func Validate(pattern string, max int) error {
	switch {
	case pattern == "":
		return ErrEmpty
	case len(pattern) > max:
		return ErrTooLong
	case len(pattern) < 2:
		return ErrTooShort
	case pattern[0] != separator:
		return ErrNoRoot
	case pattern[len(pattern)-1] == separator:
		return ErrTrailingSlash
	case strings.Contains(pattern, "//"):
		return ErrEmptyLevel
	}

	if strings.Contains(pattern, "/"+multiLevel+"/") {
		return ErrWildcard
	}

	return nil
}
