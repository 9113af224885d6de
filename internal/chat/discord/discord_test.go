package discord

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/glassbead/atris/internal/agent"
	"github.com/glassbead/atris/internal/chat"
	"github.com/glassbead/atris/internal/config"
	"github.com/glassbead/atris/internal/router"
	"github.com/glassbead/atris/internal/session"
	"github.com/glassbead/atris/internal/trace"
)

const botID = "900"

// fakeGateway records handlers and sends. fire dispatches a Gateway event
// to the handlers registered for its type, as discordgo does.
type fakeGateway struct {
	mu       sync.Mutex
	openErr  error
	sendErr  error
	open     bool
	closed   bool
	handlers map[int]interface{}
	nextID   int
	sends    []send
	threads  map[string]string // thread ID -> parent channel ID
}

type send struct {
	target string
	data   *discordgo.MessageSend
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		handlers: make(map[int]interface{}),
		threads:  map[string]string{"T1": "C1"},
	}
}

func (g *fakeGateway) Open() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openErr != nil {
		return g.openErr
	}
	g.open = true
	return nil
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *fakeGateway) AddHandler(handler interface{}) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.handlers[id] = handler
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.handlers, id)
	}
}

func (g *fakeGateway) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, send{target: channelID, data: data})
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	return &discordgo.Message{ID: "reply", ChannelID: channelID}, nil
}

func (g *fakeGateway) Channel(id string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if parent, ok := g.threads[id]; ok {
		return &discordgo.Channel{ID: id, ParentID: parent, Type: discordgo.ChannelTypeGuildPublicThread}, nil
	}
	return &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeGuildText}, nil
}

func (g *fakeGateway) fire(event interface{}) {
	g.mu.Lock()
	var hs []interface{}
	for _, h := range g.handlers {
		hs = append(hs, h)
	}
	g.mu.Unlock()
	for _, h := range hs {
		switch ev := event.(type) {
		case *discordgo.Ready:
			if f, ok := h.(func(*discordgo.Session, *discordgo.Ready)); ok {
				f(nil, ev)
			}
		case *discordgo.MessageCreate:
			if f, ok := h.(func(*discordgo.Session, *discordgo.MessageCreate)); ok {
				f(nil, ev)
			}
		}
	}
}

func (g *fakeGateway) sent() []send {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]send(nil), g.sends...)
}

func ready() *discordgo.Ready {
	return &discordgo.Ready{User: &discordgo.User{ID: botID, Username: "atris"}}
}

func guildMention(channel, text string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "1200000000000000000",
		ChannelID: channel,
		GuildID:   "G1",
		Content:   "<@" + botID + "> " + text,
		Author:    &discordgo.User{ID: "42", Username: "ada"},
		Mentions:  []*discordgo.User{{ID: botID}},
		Timestamp: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func directMessage(text string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "1200000000000000001",
		ChannelID: "DM1",
		Content:   text,
		Author:    &discordgo.User{ID: "42", Username: "ada"},
	}
}

func noParent(string) string { return "" }

func connected(t *testing.T, g *fakeGateway, channel string) (*Adapter, <-chan chat.InboundMessage) {
	t.Helper()
	a, err := New(Options{Gateway: g, Channel: channel})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	g.fire(ready())
	in, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, in
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without token or gateway")
	}
	if _, err := New(Options{BotToken: "tok"}); err != nil {
		t.Errorf("New: %v", err)
	}
}

func TestConnect_ReadyProvidesBotID(t *testing.T) {
	g := newFakeGateway()
	a, _ := New(Options{Gateway: g})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Error("Listen before Connect should fail")
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.BotUserID() != "" {
		t.Error("bot ID should be unknown until Ready")
	}
	g.fire(ready())
	if a.BotUserID() != botID {
		t.Errorf("BotUserID = %q", a.BotUserID())
	}

	bad := newFakeGateway()
	bad.openErr = errors.New("4004 authentication failed")
	b, _ := New(Options{Gateway: bad})
	if err := b.Connect(context.Background()); err == nil || !strings.Contains(err.Error(), "4004") {
		t.Errorf("err = %v", err)
	}
}

func TestToInbound(t *testing.T) {
	parents := func(id string) string {
		if id == "T1" {
			return "C1"
		}
		return ""
	}
	otherBot := guildMention("C1", "hi")
	otherBot.Author = &discordgo.User{ID: "77", Bot: true}
	unaddressed := guildMention("C1", "chatter")
	unaddressed.Mentions = nil
	own := directMessage("echo")
	own.Author = &discordgo.User{ID: botID}
	anonymous := directMessage("x")
	anonymous.Author = nil

	tests := []struct {
		name              string
		msg               *discordgo.Message
		only              string
		keep              bool
		channel           string
		thread            string
		direct, mentioned bool
		bot               bool
	}{
		{name: "guild mention", msg: guildMention("C1", "q"), keep: true, channel: "C1", mentioned: true},
		{name: "mention inside a thread", msg: guildMention("T1", "q"), keep: true, channel: "C1", thread: "T1", mentioned: true},
		{name: "thread under the allowed channel", msg: guildMention("T1", "q"), only: "C1", keep: true, channel: "C1", thread: "T1", mentioned: true},
		{name: "mention outside the allowed channel", msg: guildMention("C2", "q"), only: "C1"},
		{name: "direct message ignores the channel limit", msg: directMessage("q"), only: "C1", keep: true, channel: "DM1", direct: true},
		{name: "other bot is flagged", msg: otherBot, keep: true, channel: "C1", mentioned: true, bot: true},
		{name: "guild message without mention", msg: unaddressed},
		{name: "own message", msg: own},
		{name: "no author", msg: anonymous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toInbound(tt.msg, botID, tt.only, parents)
			if ok != tt.keep {
				t.Fatalf("kept = %v, want %v", ok, tt.keep)
			}
			if !ok {
				return
			}
			if got.ChannelID != tt.channel || got.ThreadID != tt.thread {
				t.Errorf("channel/thread = %q/%q, want %q/%q", got.ChannelID, got.ThreadID, tt.channel, tt.thread)
			}
			if got.Direct != tt.direct || got.Mentioned != tt.mentioned || got.Bot != tt.bot {
				t.Errorf("flags = %+v", got)
			}
		})
	}
}

func TestToInbound_UnknownBotID(t *testing.T) {
	if _, ok := toInbound(directMessage("q"), "", "", noParent); ok {
		t.Error("messages before Ready should be dropped")
	}
}

func TestToInbound_Timestamp(t *testing.T) {
	m := guildMention("C1", "q")
	got, _ := toInbound(m, botID, "", noParent)
	if !got.Timestamp.Equal(m.Timestamp) {
		t.Errorf("timestamp = %v", got.Timestamp)
	}

	dm := directMessage("q")
	got, _ = toInbound(dm, botID, "", noParent)
	want, _ := discordgo.SnowflakeTimestamp(dm.ID)
	if !got.Timestamp.Equal(want) {
		t.Errorf("snowflake timestamp = %v, want %v", got.Timestamp, want)
	}
}

func TestListen_DeliversUntilClose(t *testing.T) {
	g := newFakeGateway()
	a, in := connected(t, g, "")

	g.fire(&discordgo.MessageCreate{Message: guildMention("T1", "trending playlists")})
	select {
	case msg := <-in:
		if msg.Platform != "discord" || msg.ThreadID != "T1" || msg.UserName != "ada" {
			t.Errorf("msg = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	a.Close()
	g.fire(&discordgo.MessageCreate{Message: directMessage("late")})
	if _, ok := <-in; ok {
		t.Error("inbound channel should be closed")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed || len(g.handlers) != 0 {
		t.Errorf("closed = %v handlers = %d", g.closed, len(g.handlers))
	}
}

func TestMessageSend(t *testing.T) {
	data := messageSend(chat.OutboundMessage{
		Text: "Paris",
		Sections: []chat.Section{
			{Title: "Question", Body: "capital of France?", Color: chat.ColorInfo},
			{Title: "Result", Body: "Paris @everyone", Color: "#36a64f"},
			{Title: "Plain", Body: "x"},
		},
	})
	if data.Content != "Paris" || len(data.Embeds) != 3 {
		t.Fatalf("data = %+v", data)
	}
	if data.AllowedMentions == nil || len(data.AllowedMentions.Parse) != 0 {
		t.Errorf("allowed mentions = %+v, want none", data.AllowedMentions)
	}
	if e := data.Embeds[1]; e.Title != "Result" || e.Color != 0x36a64f {
		t.Errorf("embed = %+v", e)
	}
	if data.Embeds[2].Color != 0 {
		t.Errorf("uncolored embed = %#x", data.Embeds[2].Color)
	}
}

func TestEmbedColor(t *testing.T) {
	tests := map[string]int{
		"#2196f3":  0x2196f3,
		"E53935":   0xe53935,
		"":         0,
		"#zzzzzz":  0,
		"#1000000": 0,
	}
	for in, want := range tests {
		if got := embedColor(in); got != want {
			t.Errorf("embedColor(%q) = %#x, want %#x", in, got, want)
		}
	}
}

func TestSend_TargetsThreadAndDoesNotRetry(t *testing.T) {
	g := newFakeGateway()
	a, _ := connected(t, g, "")

	if err := a.Send(context.Background(), chat.OutboundMessage{ChannelID: "C1", ThreadID: "T1", Text: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Send(context.Background(), chat.OutboundMessage{ChannelID: "DM1", Text: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Send(context.Background(), chat.OutboundMessage{Text: "c"}); err == nil {
		t.Error("expected error for a reply without channel")
	}

	g.sendErr = &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	if err := a.Send(context.Background(), chat.OutboundMessage{ChannelID: "C1", Text: "d"}); err == nil {
		t.Error("expected the rate limit error")
	}

	sent := g.sent()
	var targets []string
	for _, s := range sent {
		targets = append(targets, s.target)
	}
	if strings.Join(targets, ",") != "T1,DM1,C1" {
		t.Errorf("targets = %v", targets)
	}
}

// A direct message to the bot is answered in the same DM channel.
func TestBridge_DirectMessageAnswered(t *testing.T) {
	g := newFakeGateway()
	a, err := New(Options{Gateway: g})
	if err != nil {
		t.Fatal(err)
	}
	r, _ := router.New(router.Opts{Classifier: router.NewKeywordClassifier(config.DefaultKeywords), Out: io.Discard})
	reg := agent.NewRegistry()
	reg.Bind(router.General, agent.Func(func(ctx context.Context, input string) (trace.Stream, error) {
		return nil, errors.New("unexpected general call")
	}))
	reg.Bind(router.Audius, agent.Func(func(ctx context.Context, input string) (trace.Stream, error) {
		return trace.Slice(trace.Start(input), trace.End("**Trip Switch**: 1,234,567 plays")), nil
	}))
	sessions, _ := session.NewManager(session.ManagerOpts{Router: r, Agents: reg, Out: io.Discard})
	bridge, err := chat.NewBridge(chat.BridgeOpts{Adapter: a, Sessions: sessions, Out: io.Discard})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	// Wait for Listen to register the message handler before firing.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		n := len(g.handlers)
		g.mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	g.fire(ready())
	g.fire(&discordgo.MessageCreate{Message: directMessage("How many plays does Trip Switch have on Audius?")})

	for len(g.sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := g.sent()
	if len(sent) != 1 || sent[0].target != "DM1" {
		t.Fatalf("sends = %+v", sent)
	}
	embeds := sent[0].data.Embeds
	if len(embeds) != 2 || embeds[1].Title != "Result" || !strings.Contains(embeds[1].Description, "1,234,567 plays") {
		t.Errorf("embeds = %+v", embeds)
	}
}
