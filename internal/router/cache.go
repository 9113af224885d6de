package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/glassbead/atris/internal/config"
	"github.com/glassbead/atris/internal/llm"
	"github.com/glassbead/atris/internal/store"
	"gorm.io/gorm"
)

// CachedClassifier consults the route-decision cache before delegating to an
// inner classifier, and records the inner classifier's decisions. Cache
// failures are logged and never fail classification.
type CachedClassifier struct {
	inner  Classifier
	db     *gorm.DB
	source string
}

// CachedOpts holds parameters for creating a CachedClassifier.
type CachedOpts struct {
	Inner  Classifier
	DB     *gorm.DB
	Source string // decisions recorded by another source are not served
}

// NewCachedClassifier creates a CachedClassifier.
func NewCachedClassifier(opts CachedOpts) (*CachedClassifier, error) {
	if opts.Inner == nil {
		return nil, fmt.Errorf("router: cache: inner classifier is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("router: cache: db is required")
	}
	return &CachedClassifier{inner: opts.Inner, db: opts.DB, source: opts.Source}, nil
}

// Classify returns the cached category for query, or classifies and caches it.
func (c *CachedClassifier) Classify(ctx context.Context, query string) (Category, error) {
	label, ok, err := store.LookupRoute(c.db, query, c.source)
	if err != nil {
		log.Printf("router: cache lookup: %v", err)
	}
	if ok {
		if cat, err := ParseCategory(label); err == nil {
			return cat, nil
		}
		log.Printf("router: cache holds invalid category %q, reclassifying", label)
	}

	cat, err := c.inner.Classify(ctx, query)
	if err != nil {
		return "", err
	}
	if err := store.SaveRoute(c.db, query, string(cat), c.source); err != nil {
		log.Printf("router: cache save: %v", err)
	}
	return cat, nil
}

// NewClassifier builds the classifier described by cfg. client is only used
// by the llm classifier; a nil db (or cfg.DisableCache) skips the cache.
func NewClassifier(cfg config.RouterConfig, client llm.Client, db *gorm.DB) (Classifier, error) {
	var inner Classifier
	switch cfg.Classifier {
	case config.ClassifierKeyword, "":
		inner = NewKeywordClassifier(cfg.Keywords)
	case config.ClassifierLLM:
		if client == nil {
			return nil, fmt.Errorf("router: llm classifier needs an llm client")
		}
		inner = NewLLMClassifier(client)
	default:
		return nil, fmt.Errorf("router: unknown classifier %q", cfg.Classifier)
	}
	if db == nil || cfg.DisableCache {
		return inner, nil
	}
	source := config.ClassifierLLM
	if cfg.Classifier != config.ClassifierLLM {
		source = keywordSource(cfg.Keywords)
	}
	return NewCachedClassifier(CachedOpts{Inner: inner, DB: db, Source: source})
}

// keywordSource names the keyword classifier together with a fingerprint of
// its keyword list, so editing the list invalidates earlier decisions.
func keywordSource(keywords []string) string {
	norm := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if f := strings.Fields(strings.ToLower(kw)); len(f) > 0 {
			norm = append(norm, strings.Join(f, " "))
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(norm, "\n")))
	return config.ClassifierKeyword + ":" + hex.EncodeToString(sum[:4])
}
