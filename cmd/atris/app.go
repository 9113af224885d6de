package main

import (
	"io"

	"github.com/glassbead/atris/internal/agent"
	"github.com/glassbead/atris/internal/config"
	"github.com/glassbead/atris/internal/llm"
	"github.com/glassbead/atris/internal/router"
	"github.com/glassbead/atris/internal/store"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const defaultConfigPath = "atris.yaml"

// app is the wiring shared by every command that answers queries.
type app struct {
	cfg    *config.Config
	db     *gorm.DB // nil when the route cache is disabled
	router *router.Router
	agents *agent.Registry
}

// newLLMClient builds the Anthropic client. Tests override it.
var newLLMClient = func(cfg config.LLMConfig) (llm.Client, error) {
	return llm.NewAnthropic(cfg)
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to atris config file")
}

// loadApp reads the config at path and wires the store, classifier, router
// and agents.
func loadApp(path string, out io.Writer) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return buildApp(cfg, out)
}

func buildApp(cfg *config.Config, out io.Writer) (*app, error) {
	a := &app{cfg: cfg}

	// Leave client as a nil interface when no key is configured; config
	// validation already rejects setups that need one.
	var client llm.Client
	if cfg.LLM.APIKey != "" {
		c, err := newLLMClient(cfg.LLM)
		if err != nil {
			return nil, err
		}
		client = c
	}

	if !cfg.Router.DisableCache {
		db, err := store.Connect(cfg.Store)
		if err != nil {
			return nil, err
		}
		a.db = db
	}

	classifier, err := router.NewClassifier(cfg.Router, client, a.db)
	if err != nil {
		return nil, err
	}
	a.router, err = router.New(router.Opts{Classifier: classifier, Out: out})
	if err != nil {
		return nil, err
	}

	a.agents, err = agent.FromConfig(cfg.Agents, client)
	if err != nil {
		return nil, err
	}
	return a, nil
}
