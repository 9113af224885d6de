package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/glassbead/atris/internal/llm"
	"github.com/glassbead/atris/internal/trace"
	"github.com/tidwall/gjson"
)

const (
	toolSearchTracks   = "audius_search_tracks"
	toolTrendingTracks = "audius_trending_tracks"
)

const audiusSystemPrompt = `You are an assistant for the Audius music platform. Answer the user's question using only the track data provided. Quote play, repost and favorite counts exactly as given. If the data does not answer the question, say so briefly. Use Markdown.`

// audiusNoise is removed from queries before searching so that a question
// like "how many plays does this audius track have" does not search for the
// literal sentence.
var audiusNoise = map[string]bool{
	"a": true, "an": true, "the": true, "this": true, "that": true, "these": true,
	"is": true, "are": true, "was": true, "does": true, "do": true, "did": true,
	"have": true, "has": true, "how": true, "many": true, "much": true, "what": true,
	"which": true, "who": true, "show": true, "me": true, "find": true, "tell": true,
	"about": true, "on": true, "of": true, "for": true, "in": true, "by": true,
	"audius": true, "track": true, "tracks": true, "song": true, "songs": true,
	"plays": true, "play": true, "count": true, "trending": true, "top": true,
	"reposts": true, "repost": true, "favorites": true, "most": true, "popular": true,
	"please": true, "and": true, "with": true, "it": true, "its": true,
}

// Track is the subset of an Audius track the agent reports.
type Track struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Handle    string `json:"handle,omitempty"`
	Genre     string `json:"genre,omitempty"`
	Plays     int64  `json:"plays"`
	Reposts   int64  `json:"reposts"`
	Favorites int64  `json:"favorites"`
	Permalink string `json:"permalink,omitempty"`
}

// Audius is the specialized agent. It looks tracks up on the Audius API and
// answers from the results.
type Audius struct {
	host    string
	appName string
	limit   int
	http    *http.Client
	llm     llm.Client
}

// AudiusOpts holds parameters for creating an Audius agent.
type AudiusOpts struct {
	APIHost     string       // e.g. https://api.audius.co
	AppName     string       // sent as app_name on every request
	SearchLimit int          // defaults to 5
	HTTPClient  *http.Client // defaults to a client with a 15s timeout
	LLM         llm.Client   // nil answers with a formatted track list
}

// NewAudius creates an Audius agent.
func NewAudius(opts AudiusOpts) *Audius {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	limit := opts.SearchLimit
	if limit <= 0 {
		limit = 5
	}
	return &Audius{
		host:    strings.TrimRight(opts.APIHost, "/"),
		appName: opts.AppName,
		limit:   limit,
		http:    hc,
		llm:     opts.LLM,
	}
}

// Invoke emits on_chain_start, a tool start/end pair around the track lookup,
// the answer as on_chat_model_stream chunks, and on_chain_end.
func (a *Audius) Invoke(ctx context.Context, input string) (trace.Stream, error) {
	return produce(ctx, func(emit func(trace.Event) error) error {
		if err := emit(trace.Start(input)); err != nil {
			return err
		}

		terms := SearchTerms(input)
		tool := toolSearchTracks
		if terms == "" {
			tool = toolTrendingTracks
		}
		if err := emit(trace.ToolStart(tool, map[string]any{"query": terms, "limit": a.limit})); err != nil {
			return err
		}
		var tracks []Track
		var err error
		if terms == "" {
			tracks, err = a.TrendingTracks(ctx)
		} else {
			tracks, err = a.SearchTracks(ctx, terms)
		}
		if err != nil {
			return err
		}
		if err := emit(trace.ToolEnd(tool, tracks)); err != nil {
			return err
		}

		if a.llm == nil {
			answer := FormatTracks(tracks)
			if err := emit(trace.Chunk(answer)); err != nil {
				return err
			}
			return emit(trace.End(answer))
		}
		out, err := a.llm.Stream(ctx, llm.Request{
			System: audiusSystemPrompt,
			Prompt: fmt.Sprintf("Question: %s\n\nTrack data:\n%s", input, FormatTracks(tracks)),
		}, func(text string) error {
			return emit(trace.Chunk(text))
		})
		if err != nil {
			return fmt.Errorf("agent: audius: %w", err)
		}
		return emit(trace.End(out))
	}), nil
}

// SearchTracks queries /v1/tracks/search.
func (a *Audius) SearchTracks(ctx context.Context, query string) ([]Track, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(a.limit))
	return a.fetchTracks(ctx, "/v1/tracks/search", q)
}

// TrendingTracks queries /v1/tracks/trending.
func (a *Audius) TrendingTracks(ctx context.Context) ([]Track, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(a.limit))
	return a.fetchTracks(ctx, "/v1/tracks/trending", q)
}

func (a *Audius) fetchTracks(ctx context.Context, path string, q url.Values) ([]Track, error) {
	if a.appName != "" {
		q.Set("app_name", a.appName)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.host+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("agent: audius: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent: audius: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("agent: audius: read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent: audius: %s: status %d", path, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("agent: audius: %s: invalid JSON response", path)
	}
	return parseTracks(body, a.limit), nil
}

// parseTracks reads the "data" array of an Audius tracks response.
func parseTracks(body []byte, limit int) []Track {
	tracks := []Track{}
	gjson.GetBytes(body, "data").ForEach(func(_, t gjson.Result) bool {
		tracks = append(tracks, Track{
			ID:        t.Get("id").String(),
			Title:     t.Get("title").String(),
			Artist:    t.Get("user.name").String(),
			Handle:    t.Get("user.handle").String(),
			Genre:     t.Get("genre").String(),
			Plays:     t.Get("play_count").Int(),
			Reposts:   t.Get("repost_count").Int(),
			Favorites: t.Get("favorite_count").Int(),
			Permalink: t.Get("permalink").String(),
		})
		return limit <= 0 || len(tracks) < limit
	})
	return tracks
}

// SearchTerms strips question words and Audius vocabulary from input,
// leaving the terms worth searching for. It returns "" when nothing is left.
func SearchTerms(input string) string {
	var kept []string
	for _, w := range strings.Fields(input) {
		w = strings.Trim(w, `?!.,;:"'()`)
		if w == "" || audiusNoise[strings.ToLower(w)] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// FormatTracks renders tracks as a Markdown list.
func FormatTracks(tracks []Track) string {
	if len(tracks) == 0 {
		return "No matching tracks found on Audius."
	}
	var b strings.Builder
	for i, t := range tracks {
		artist := t.Artist
		if artist == "" {
			artist = t.Handle
		}
		fmt.Fprintf(&b, "%d. **%s** by %s: %s plays, %s reposts, %s favorites\n",
			i+1, t.Title, artist, groupDigits(t.Plays), groupDigits(t.Reposts), groupDigits(t.Favorites))
	}
	return strings.TrimRight(b.String(), "\n")
}

// groupDigits formats n with comma thousands separators.
func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
