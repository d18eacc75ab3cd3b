package retry

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Class is the retry decision for a failure.
type Class string

const (
	ClassRetryable Class = "retryable"
	ClassFatal     Class = "fatal"
)

// StatusCoder is implemented by errors that carry a remote status code.
type StatusCoder interface {
	StatusCode() int
}

// Signal is the normalized view of an error that rules match against.
type Signal struct {
	Code    int
	Text    string
	Timeout bool
}

// SignalOf extracts a Signal from err.
func SignalOf(err error) Signal {
	if err == nil {
		return Signal{}
	}
	s := Signal{Text: strings.ToLower(err.Error())}
	var sc StatusCoder
	if errors.As(err, &sc) {
		s.Code = sc.StatusCode()
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		s.Timeout = true
	}
	return s
}

// Rule maps a predicate over a Signal to a Class.
type Rule struct {
	Name  string
	Match func(Signal) bool
	Class Class
}

// KeywordRule matches when the signal text contains any of phrases.
func KeywordRule(name string, class Class, phrases ...string) Rule {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return Rule{
		Name:  name,
		Class: class,
		Match: func(s Signal) bool {
			for _, p := range lowered {
				if strings.Contains(s.Text, p) {
					return true
				}
			}
			return false
		},
	}
}

// StatusRule matches when the signal code is within [lo, hi] and not in except.
func StatusRule(name string, class Class, lo, hi int, except ...int) Rule {
	return Rule{
		Name:  name,
		Class: class,
		Match: func(s Signal) bool {
			if s.Code < lo || s.Code > hi {
				return false
			}
			for _, c := range except {
				if s.Code == c {
					return false
				}
			}
			return true
		},
	}
}

// Classifier evaluates rules in order; the first match wins. Errors that
// match no rule are Fatal.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier from an ordered rule list.
func NewClassifier(rules ...Rule) *Classifier {
	return &Classifier{rules: rules}
}

var (
	fatalPhrases = []string{
		"invalid file",
		"not an invoice",
		"not a recognized document",
		"unsupported",
		"malformed",
		"invalid format",
		"missing required fields",
	}
	transientPhrases = []string{
		"connection",
		"timeout",
		"timed out",
		"temporarily",
		"exceed",
		"rate limit",
		"quota",
		"resource_exhausted",
		"service unavailable",
		"unavailable",
		"internal server error",
		"bad gateway",
		"502",
		"503",
		"504",
		"try again",
	}
)

// DefaultClassifier returns the rule table used for the extraction call.
// extraTransient phrases are appended to the transient keyword rule.
func DefaultClassifier(extraTransient ...string) *Classifier {
	transient := append(append([]string{}, transientPhrases...), extraTransient...)
	return NewClassifier(
		KeywordRule("fatal_keyword", ClassFatal, fatalPhrases...),
		StatusRule("throttled", ClassRetryable, 408, 408),
		StatusRule("throttled", ClassRetryable, 429, 429),
		StatusRule("client_status", ClassFatal, 400, 499),
		StatusRule("server_status", ClassRetryable, 500, 599),
		Rule{Name: "timeout", Class: ClassRetryable, Match: func(s Signal) bool { return s.Timeout }},
		KeywordRule("transient_keyword", ClassRetryable, transient...),
	)
}

// Classify returns the class for err.
func (c *Classifier) Classify(err error) Class {
	class, _ := c.ClassifyRule(err)
	return class
}

// ClassifyRule returns the class for err and the name of the rule that
// decided it, or "default" when no rule matched.
func (c *Classifier) ClassifyRule(err error) (Class, string) {
	s := SignalOf(err)
	for _, r := range c.rules {
		if r.Match(s) {
			return r.Class, r.Name
		}
	}
	return ClassFatal, "default"
}
