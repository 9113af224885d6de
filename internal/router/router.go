// Package router classifies free-text queries into the category of agent
// that should answer them.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Category is the closed set of routing labels.
type Category string

const (
	// Audius routes to the Audius-specialized agent.
	Audius Category = "audius"
	// General routes to the general-purpose agent.
	General Category = "general"
)

// Categories lists every valid category.
var Categories = []Category{Audius, General}

// ErrUnknownCategory is returned when a label is not a valid Category.
var ErrUnknownCategory = errors.New("router: unknown category")

// ParseCategory converts a label into a Category.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case Audius:
		return Audius, nil
	case General:
		return General, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Classifier decides which category a query belongs to.
type Classifier interface {
	Classify(ctx context.Context, query string) (Category, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, query string) (Category, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, query string) (Category, error) {
	return f(ctx, query)
}

// Router wraps a Classifier and fails closed to General when classification
// cannot complete.
type Router struct {
	classifier Classifier
	out        io.Writer
}

// Opts holds parameters for creating a Router.
type Opts struct {
	Classifier Classifier
	Out        io.Writer // defaults to os.Stdout
}

// New creates a Router.
func New(opts Opts) (*Router, error) {
	if opts.Classifier == nil {
		return nil, fmt.Errorf("router: classifier is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Router{classifier: opts.Classifier, out: out}, nil
}

// Route returns the category for query. It never fails: any classifier error
// is logged and the query goes to General.
func (r *Router) Route(ctx context.Context, query string) Category {
	cat, err := r.classifier.Classify(ctx, query)
	if err != nil {
		log.Printf("router: classify %q: %v (falling back to %s)", truncate(query, 80), err, General)
		return General
	}
	if cat != Audius && cat != General {
		log.Printf("router: classifier returned %q (falling back to %s)", cat, General)
		return General
	}
	fmt.Fprintf(r.out, "router: %q → %s\n", truncate(query, 80), cat)
	return cat
}

// truncate returns s cut to maxLen runes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
