// Package slack connects the chat bridge to Slack over Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/glassbead/atris/internal/chat"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// webAPI is the part of the Slack Web API the adapter calls.
type webAPI interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slackapi.User, error)
}

// socketConn is the Socket Mode connection: a blocking run loop, the events
// it produces, and acknowledgement of envelopes.
type socketConn interface {
	RunContext(ctx context.Context) error
	Incoming() <-chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

type socketmodeConn struct{ *socketmode.Client }

func (c socketmodeConn) Incoming() <-chan socketmode.Event { return c.Events }

// Options configures an Adapter.
type Options struct {
	AppToken string // xapp- token, needed for Socket Mode
	BotToken string // xoxb- token
	// Channel limits channel mentions to one channel ID. Direct messages
	// are always answered. Empty answers mentions everywhere.
	Channel string

	// API and Socket replace the real Slack clients in tests.
	API    webAPI
	Socket socketConn
}

// Adapter is a chat.Adapter for a Slack workspace.
type Adapter struct {
	opts  Options
	inbox *chat.Inbox

	mu     sync.Mutex
	api    webAPI
	socket socketConn
	botID  string
	stop   context.CancelFunc
	names  map[string]string
}

// New validates opts and returns an unconnected Adapter.
func New(opts Options) (*Adapter, error) {
	var missing []string
	if opts.API == nil && opts.BotToken == "" {
		missing = append(missing, "bot token")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		missing = append(missing, "app token")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("slack: %s required", strings.Join(missing, " and "))
	}
	return &Adapter{
		opts:   opts,
		inbox:  chat.NewInbox("slack", 64),
		api:    opts.API,
		socket: opts.Socket,
		names:  make(map[string]string),
	}, nil
}

// Connect checks the bot token and learns the bot's own user ID, which is
// how the adapter recognizes mentions of itself.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.inbox.Closed() {
		return errors.New("slack: connect after close")
	}
	a.mu.Lock()
	if a.api == nil {
		client := slackapi.New(a.opts.BotToken, slackapi.OptionAppLevelToken(a.opts.AppToken))
		a.api = client
		a.socket = socketmodeConn{socketmode.New(client)}
	}
	api := a.api
	a.mu.Unlock()

	resp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.mu.Lock()
	a.botID = resp.UserID
	a.mu.Unlock()
	log.Printf("slack: authenticated as %s in %s", resp.User, resp.Team)
	return nil
}

// Listen opens the Socket Mode connection. Messages addressed to the bot
// arrive on the returned channel until Close.
func (a *Adapter) Listen(ctx context.Context) (<-chan chat.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.botID == "" {
		return nil, errors.New("slack: listen before connect")
	}
	if a.stop != nil {
		return a.inbox.C(), nil
	}
	runCtx, stop := context.WithCancel(ctx)
	a.stop = stop

	go func() {
		if err := a.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("slack: socket mode: %v", err)
		}
	}()
	go a.consume(runCtx)
	return a.inbox.C(), nil
}

// Send posts msg as a single chat.postMessage call.
func (a *Adapter) Send(ctx context.Context, msg chat.OutboundMessage) error {
	if msg.ChannelID == "" {
		return errors.New("slack: reply has no channel")
	}
	a.mu.Lock()
	api := a.api
	a.mu.Unlock()
	if api == nil {
		return errors.New("slack: send before connect")
	}
	if _, _, err := api.PostMessageContext(ctx, msg.ChannelID, replyOptions(msg)...); err != nil {
		return fmt.Errorf("slack: post to %s: %w", msg.ChannelID, err)
	}
	return nil
}

// Close stops the socket and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.stop != nil {
		a.stop()
	}
	a.mu.Unlock()
	a.inbox.Close()
	return nil
}

// BotUserID is the bot's own Slack user ID, known after Connect.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botID
}

// consume acknowledges every Events API envelope and forwards the messages
// addressed to the bot.
func (a *Adapter) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Incoming():
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					a.socket.Ack(*evt.Request)
				}
				msg, ok := toInbound(evt.Data, a.BotUserID(), a.opts.Channel)
				if !ok {
					continue
				}
				msg.UserName = a.displayName(ctx, msg.UserID)
				a.inbox.Deliver(msg)
			case socketmode.EventTypeConnectionError:
				log.Printf("slack: connection error: %v", evt.Data)
			}
		}
	}
}

// displayName resolves a user ID to a display name once and remembers it.
// Lookup failures fall back to the ID and are retried on the next message.
func (a *Adapter) displayName(ctx context.Context, userID string) string {
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}
	u, err := a.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return userID
	}
	name = u.Profile.DisplayName
	if name == "" {
		name = u.RealName
	}
	if name == "" {
		name = userID
	}
	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}
