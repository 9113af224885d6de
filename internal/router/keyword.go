package router

import (
	"context"
	"regexp"
	"strings"
)

// KeywordClassifier routes a query to Audius when it contains any of a set
// of keywords or phrases (case-insensitive, whole words), and to General
// otherwise.
type KeywordClassifier struct {
	patterns []*regexp.Regexp
}

// NewKeywordClassifier compiles keywords into word-boundary patterns. Blank
// keywords are skipped. Multi-word phrases match across any run of
// whitespace.
func NewKeywordClassifier(keywords []string) *KeywordClassifier {
	kc := &KeywordClassifier{}
	for _, kw := range keywords {
		words := strings.Fields(kw)
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		kc.patterns = append(kc.patterns, regexp.MustCompile(`(?i)\b`+strings.Join(words, `\s+`)+`\b`))
	}
	return kc
}

// Classify never fails.
func (k *KeywordClassifier) Classify(ctx context.Context, query string) (Category, error) {
	for _, p := range k.patterns {
		if p.MatchString(query) {
			return Audius, nil
		}
	}
	return General, nil
}
