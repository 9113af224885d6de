package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/glassbead/atris/internal/trace"
)

// Remote is an agent served over HTTP. It POSTs {"input": ...} and reads the
// response as server-sent events, one trace event per SSE message.
type Remote struct {
	url  string
	http *http.Client
}

// RemoteOpts holds parameters for creating a Remote agent.
type RemoteOpts struct {
	URL        string
	HTTPClient *http.Client // defaults to a client without timeout
}

// NewRemote creates a Remote agent.
func NewRemote(opts RemoteOpts) (*Remote, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("agent: remote: url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Remote{url: opts.URL, http: hc}, nil
}

// Invoke sends the request and returns once the response headers arrive. A
// connection failure or non-200 status is returned as an error; everything
// after that is delivered through the stream.
func (a *Remote) Invoke(ctx context.Context, input string) (trace.Stream, error) {
	body, err := json.Marshal(map[string]string{"input": input})
	if err != nil {
		return nil, fmt.Errorf("agent: remote: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent: remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent: remote: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("agent: remote: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return produce(ctx, func(emit func(trace.Event) error) error {
		defer resp.Body.Close()
		return ReadSSE(resp.Body, emit)
	}), nil
}

// ReadSSE decodes server-sent events from r and calls emit for each one in
// order. A message with an "event:" field carries that event's payload in its
// data; a message without one must carry a full {"event","data"} object.
// Comment lines and messages without data are skipped.
func ReadSSE(r io.Reader, emit func(trace.Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var name string
	var data []string
	flush := func() error {
		defer func() { name, data = "", nil }()
		if len(data) == 0 {
			return nil
		}
		ev, err := decodeSSEMessage(name, strings.Join(data, "\n"))
		if err != nil {
			return err
		}
		return emit(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("agent: remote: read stream: %w", err)
	}
	return flush()
}

func decodeSSEMessage(name, data string) (trace.Event, error) {
	if name == "" {
		var ev trace.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return trace.Event{}, fmt.Errorf("agent: remote: decode message: %w", err)
		}
		return ev, nil
	}
	raw := json.RawMessage(data)
	if !json.Valid(raw) {
		b, _ := json.Marshal(data)
		raw = b
	}
	return trace.Decode(name, raw), nil
}
