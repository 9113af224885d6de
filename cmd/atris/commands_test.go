package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glassbead/atris/internal/config"
	"github.com/glassbead/atris/internal/llm"
	"github.com/glassbead/atris/internal/session"
	"github.com/glassbead/atris/internal/trace"
	"golang.org/x/crypto/bcrypt"
)

const tracksJSON = `{"data":[
	{"id":"D7KyD","title":"Trip Switch","play_count":1234567,"repost_count":89,"favorite_count":4321,"user":{"name":"Skrillex","handle":"skrillex"}}
]}`

// newRemoteAgent serves a LangChain-style SSE run answering every query
// with output.
func newRemoteAgent(t *testing.T, output string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		in, _ := json.Marshal(body.Input)
		out, _ := json.Marshal(output)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: on_chain_start\ndata: {\"input\":{\"input\":%s}}\n\n", in)
		fmt.Fprintf(w, "event: on_chat_model_stream\ndata: {\"chunk\":%s}\n\n", out)
		fmt.Fprintf(w, "event: on_chain_end\ndata: {\"output\":%s}\n\n", out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTracksServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, tracksJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeConfig writes a config binding general to the remote agent at
// generalURL and audius to a fake Audius API, with the route cache in a temp
// sqlite file. extra is appended verbatim.
func writeConfig(t *testing.T, generalURL, extra string) string {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ATRIS_JWT_SECRET", "")
	dir := t.TempDir()
	yaml := fmt.Sprintf(`store:
  driver: sqlite
  path: %s
agents:
  general:
    kind: remote
    url: %s
  audius:
    kind: audius
    api_host: %s
    app_name: atris-test
%s`, filepath.Join(dir, "atris.db"), generalURL, newTracksServer(t).URL, extra)
	path := filepath.Join(dir, "atris.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAsk_General(t *testing.T) {
	cfg := writeConfig(t, newRemoteAgent(t, "The capital of France is Paris.").URL, "")

	out, err := run(t, "ask", "-c", cfg, "What", "is", "the", "capital", "of", "France?")
	if err != nil {
		t.Fatalf("ask: %v\n%s", err, out)
	}
	for _, want := range []string{
		"on_chain_start",
		"on_chat_model_stream",
		"on_chain_end",
		"Question\nWhat is the capital of France?",
		"Result\nThe capital of France is Paris.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "on_chain_start") > strings.Index(out, "on_chain_end") {
		t.Error("events printed out of order")
	}
}

func TestAsk_AudiusQuiet(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1", "")

	out, err := run(t, "ask", "-q", "-c", cfg, "How many plays does Trip Switch have on Audius?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if strings.Contains(out, "on_tool_start") {
		t.Errorf("quiet output should not list events:\n%s", out)
	}
	if !strings.Contains(out, "**Trip Switch** by Skrillex: 1,234,567 plays") {
		t.Errorf("output = %s", out)
	}
}

func TestAsk_FailureExitsNonZero(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	cfg := writeConfig(t, dead.URL, "")

	out, err := run(t, "ask", "-c", cfg, "hello there")
	if err == nil || !strings.Contains(err.Error(), "invoke") {
		t.Fatalf("err = %v, want invoke failure", err)
	}
	if !strings.Contains(out, "Error (invoke)") {
		t.Errorf("output = %s", out)
	}
}

func TestAsk_WithLLMClient(t *testing.T) {
	fake := &llm.Fake{Chunks: []string{"Par", "is"}}
	orig := newLLMClient
	newLLMClient = func(cfg config.LLMConfig) (llm.Client, error) { return fake, nil }
	defer func() { newLLMClient = orig }()

	cfg := writeConfig(t, "http://127.0.0.1:1", "")
	b, _ := os.ReadFile(cfg)
	yaml := strings.Replace(string(b), "kind: remote", "kind: claude", 1) + "llm:\n  api_key: test-key\n"
	os.WriteFile(cfg, []byte(yaml), 0o644)

	out, err := run(t, "ask", "-q", "-c", cfg, "Capital of France?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "Result\nParis") {
		t.Errorf("output = %s", out)
	}
	if len(fake.Requests()) != 1 {
		t.Errorf("llm requests = %d, want 1", len(fake.Requests()))
	}
}

func TestRoute(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1", "")
	tests := map[string]string{
		"What is the capital of France?":      "general",
		"What are the trending playlists?":    "audius",
		"How many plays does this track have": "audius",
	}
	for q, want := range tests {
		out, err := run(t, "route", "-c", cfg, q)
		if err != nil {
			t.Fatalf("route %q: %v", q, err)
		}
		if strings.TrimSpace(out) != want {
			t.Errorf("route %q = %q, want %q", q, strings.TrimSpace(out), want)
		}
	}
}

func TestCache_StatsAndPrune(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1", "")
	run(t, "route", "-c", cfg, "trending playlists")
	run(t, "route", "-c", cfg, "trending playlists")
	run(t, "route", "-c", cfg, "capital of France")

	out, err := run(t, "cache", "stats", "-c", cfg)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"Cached decisions: 2", "audius", "general", "Cache hits: 1", "Next prune:"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "cache", "prune", "-c", cfg, "--older-than", "1ns")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !strings.Contains(out, "Pruned 2 route decision(s)") {
		t.Errorf("prune output = %q", out)
	}
}

func TestToken(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1", "auth:\n  jwt_secret: s3cret\n")
	out, err := run(t, "token", "-c", cfg, "ada")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Errorf("token = %q, want a JWT", out)
	}

	cfg = writeConfig(t, "http://127.0.0.1:1", "")
	if _, err := run(t, "token", "-c", cfg, "ada"); err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Errorf("err = %v, want auth disabled", err)
	}
}

func TestHashPassword(t *testing.T) {
	out, err := run(t, "hash-password", "hunter2")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("hunter2")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
}

func TestHashPassword_FromStdin(t *testing.T) {
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader("hunter2\n"))
	cmd.SetArgs([]string{"hash-password"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out.String())), []byte("hunter2")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
}

func TestCreateAdapter(t *testing.T) {
	cfg := &config.Config{}
	cfg.Chat.Platform = "slack"
	cfg.Chat.Slack.AppToken, cfg.Chat.Slack.BotToken = "xapp", "xoxb"
	if _, err := createAdapter(cfg); err != nil {
		t.Errorf("slack: %v", err)
	}
	cfg.Chat.Platform = "discord"
	cfg.Chat.Discord.BotToken = "tok"
	if _, err := createAdapter(cfg); err != nil {
		t.Errorf("discord: %v", err)
	}
	cfg.Chat.Platform = "irc"
	if _, err := createAdapter(cfg); err == nil {
		t.Error("expected error for unsupported platform")
	}
}

type fixedState session.State

func (f fixedState) Snapshot() session.State { return session.State(f) }

func TestFollow_FillsMissedEvents(t *testing.T) {
	events := []trace.Event{trace.Start("Q"), trace.Chunk("a"), trace.Chunk("b"), trace.End("ab")}
	for i := range events {
		events[i].RunID = "r1"
		events[i].Seq = i + 1
	}
	st := fixedState{Events: events}

	// The subscriber only saw seq 1 and 4.
	transitions := make(chan session.Transition, 4)
	transitions <- session.Transition{Kind: session.KindTrace, RunID: "r1", Event: &events[0]}
	transitions <- session.Transition{Kind: session.KindTrace, RunID: "r1", Event: &events[3]}
	transitions <- session.Transition{Kind: session.KindDone, RunID: "r1"}

	out := new(bytes.Buffer)
	if _, err := follow(context.Background(), newPrinter(out), st, "r1", make(chan struct{}), transitions, false); err != nil {
		t.Fatalf("follow: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("printed %d lines, want 4:\n%s", len(lines), out)
	}
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), fmt.Sprint(i+1)+" ") {
			t.Errorf("line %d = %q, want seq %d", i, line, i+1)
		}
	}
}

func TestFollow_MissedTail(t *testing.T) {
	events := []trace.Event{trace.Start("Q"), trace.End("A")}
	for i := range events {
		events[i].RunID = "r1"
		events[i].Seq = i + 1
	}
	done := make(chan struct{})
	close(done)

	out := new(bytes.Buffer)
	if _, err := follow(context.Background(), newPrinter(out), fixedState{Events: events}, "r1", done, make(chan session.Transition), false); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if n := strings.Count(out.String(), "\n"); n != 2 {
		t.Errorf("printed %d lines, want 2:\n%s", n, out)
	}
}

func TestClip(t *testing.T) {
	if got := clip("abcdef", 3); got != "abc..." {
		t.Errorf("clip = %q", got)
	}
	if got := clip("abc", 3); got != "abc" {
		t.Errorf("clip = %q", got)
	}
}
