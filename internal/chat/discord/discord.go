// Package discord connects the chat bridge to Discord over the Gateway.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/glassbead/atris/internal/chat"
)

// intents are the Gateway events the bot needs: guild and DM messages, with
// their content.
const intents = discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// gateway is the part of *discordgo.Session the adapter uses.
type gateway interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	// Channel looks a channel up, from the state cache when possible.
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// cachedSession serves Channel from the session state before asking REST.
type cachedSession struct{ *discordgo.Session }

func (s cachedSession) Channel(id string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if ch, err := s.State.Channel(id); err == nil {
		return ch, nil
	}
	return s.Session.Channel(id, options...)
}

// Options configures an Adapter.
type Options struct {
	BotToken string
	// Channel limits guild mentions to one channel ID (threads under it
	// included). Direct messages are always answered.
	Channel string

	// Gateway replaces the real session in tests.
	Gateway gateway
}

// Adapter is a chat.Adapter for a Discord bot.
type Adapter struct {
	opts  Options
	inbox *chat.Inbox

	mu      sync.Mutex
	gw      gateway
	open    bool
	botID   string
	removes []func()
}

// New validates opts and returns an unconnected Adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Gateway == nil && opts.BotToken == "" {
		return nil, errors.New("discord: bot token required")
	}
	return &Adapter{opts: opts, inbox: chat.NewInbox("discord", 64), gw: opts.Gateway}, nil
}

// Connect opens the Gateway. The bot's user ID arrives with the Ready
// event, which Discord sends again after every reconnect.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.inbox.Closed() {
		return errors.New("discord: connect after close")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open {
		return nil
	}
	if a.gw == nil {
		s, err := discordgo.New("Bot " + a.opts.BotToken)
		if err != nil {
			return fmt.Errorf("discord: new session: %w", err)
		}
		s.Identify.Intents = intents
		a.gw = cachedSession{s}
	}
	a.removes = append(a.removes, a.gw.AddHandler(a.onReady))
	if err := a.gw.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.open = true
	return nil
}

// Listen starts forwarding messages addressed to the bot.
func (a *Adapter) Listen(ctx context.Context) (<-chan chat.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return nil, errors.New("discord: listen before connect")
	}
	a.removes = append(a.removes, a.gw.AddHandler(a.onMessage))
	return a.inbox.C(), nil
}

// Send posts msg once, into the thread when it has one. Mentions in the
// reply never ping anyone: agent output is echoed verbatim.
func (a *Adapter) Send(ctx context.Context, msg chat.OutboundMessage) error {
	target := msg.ThreadID
	if target == "" {
		target = msg.ChannelID
	}
	if target == "" {
		return errors.New("discord: reply has no channel")
	}
	a.mu.Lock()
	gw, open := a.gw, a.open
	a.mu.Unlock()
	if !open {
		return errors.New("discord: send while closed")
	}
	if _, err := gw.ChannelMessageSendComplex(target, messageSend(msg), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send to %s: %w", target, err)
	}
	return nil
}

// Close removes the handlers, closes the Gateway and the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	for _, remove := range a.removes {
		remove()
	}
	a.removes = nil
	gw, wasOpen := a.gw, a.open
	a.open = false
	a.mu.Unlock()

	a.inbox.Close()
	if wasOpen {
		return gw.Close()
	}
	return nil
}

// BotUserID is the bot's own user ID, known once Ready has been received.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botID
}

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	a.botID = r.User.ID
	a.mu.Unlock()
	log.Printf("discord: ready as %s in %d guild(s)", r.User.Username, len(r.Guilds))
}

func (a *Adapter) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	msg, ok := toInbound(m.Message, a.BotUserID(), a.opts.Channel, a.parentOf)
	if ok {
		a.inbox.Deliver(msg)
	}
}

// parentOf returns the parent channel of a thread, or "" for anything that
// is not a thread.
func (a *Adapter) parentOf(channelID string) string {
	a.mu.Lock()
	gw := a.gw
	a.mu.Unlock()
	ch, err := gw.Channel(channelID)
	if err != nil || !ch.IsThread() {
		return ""
	}
	return ch.ParentID
}
