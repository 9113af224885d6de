package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/glassbead/atris/internal/session"
)

// Replies posted without running a query.
const (
	hintReply = "Ask me a question, e.g. \"what's trending on Audius?\""
	busyReply = "Still working on the previous question in this thread."
)

// mentionRe matches Slack (<@U123ABC>) and Discord (<@123>, <@!123>) user
// mentions.
var mentionRe = regexp.MustCompile(`<@!?[A-Za-z0-9]+>`)

// Bridge turns chat messages into session queries and posts the answers back.
type Bridge struct {
	adapter   Adapter
	sessions  *session.Manager
	botUserID string
	out       io.Writer

	wg sync.WaitGroup
}

// BridgeOpts holds parameters for creating a Bridge.
type BridgeOpts struct {
	Adapter   Adapter
	Sessions  *session.Manager
	BotUserID string    // overrides the adapter's BotUserIDer, if any
	Out       io.Writer // defaults to os.Stdout
}

// NewBridge creates a Bridge.
func NewBridge(opts BridgeOpts) (*Bridge, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("chat: adapter is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("chat: sessions are required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Bridge{
		adapter:   opts.Adapter,
		sessions:  opts.Sessions,
		botUserID: opts.BotUserID,
		out:       out,
	}, nil
}

// Run connects the adapter and handles inbound messages until ctx is
// cancelled or the adapter closes its channel. Replies still in flight are
// awaited before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("chat: connect: %w", err)
	}
	if b.botUserID == "" {
		if bui, ok := b.adapter.(BotUserIDer); ok {
			b.botUserID = bui.BotUserID()
		}
	}

	inbound, err := b.adapter.Listen(ctx)
	if err != nil {
		b.adapter.Close()
		return fmt.Errorf("chat: listen: %w", err)
	}
	fmt.Fprintf(b.out, "Chat bridge online\n")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			if err := b.adapter.Close(); err != nil {
				log.Printf("chat: close adapter: %v", err)
			}
			fmt.Fprintf(b.out, "Chat bridge stopped\n")
			return nil
		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(b.out, "Chat inbound channel closed\n")
				return nil
			}
			b.Handle(ctx, msg)
		}
	}
}

// Handle processes a single inbound message:
//  1. Bot or self message → ignore
//  2. Neither a mention nor a DM → ignore
//  3. Empty text after stripping mentions → hint reply
//  4. Session already running → busy reply
//  5. Otherwise submit, and post the answer when the run finishes
//
// Handle returns once the query is submitted; the answer is posted from a
// background goroutine.
func (b *Bridge) Handle(ctx context.Context, msg InboundMessage) {
	if b.isSelfMessage(msg) {
		return
	}
	if !msg.Direct && !msg.Mentioned {
		return
	}

	text := stripMentions(msg.Text)
	fmt.Fprintf(b.out, "chat: recv [%s ch=%s thread=%s user=%s] %q\n",
		msg.Platform, msg.ChannelID, msg.ThreadID, msg.UserName, truncate(text, 80))

	if text == "" {
		b.reply(ctx, msg, OutboundMessage{Text: hintReply})
		return
	}

	sess := b.sessions.Get(SessionKey(msg.ChannelID, msg.ThreadID))
	run, err := sess.Submit(ctx, text)
	switch {
	case errors.Is(err, session.ErrBusy):
		b.reply(ctx, msg, OutboundMessage{Text: busyReply})
		return
	case err != nil:
		log.Printf("chat: submit: %v", err)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := run.Wait(ctx); err != nil {
			return
		}
		b.reply(ctx, msg, FormatReply(sess.Snapshot()))
	}()
}

// reply addresses out to the message's channel and thread and sends it once.
func (b *Bridge) reply(ctx context.Context, msg InboundMessage, out OutboundMessage) {
	out.ChannelID = msg.ChannelID
	out.ThreadID = msg.ThreadID
	if err := b.adapter.Send(ctx, out); err != nil {
		log.Printf("chat: send reply: %v", err)
	}
}

func (b *Bridge) isSelfMessage(msg InboundMessage) bool {
	return msg.Bot || (b.botUserID != "" && msg.UserID == b.botUserID)
}

// SessionKey is the session ID used for a channel/thread pair.
func SessionKey(channelID, threadID string) string {
	if threadID == "" {
		return channelID
	}
	return channelID + ":" + threadID
}

func stripMentions(text string) string {
	return strings.Join(strings.Fields(mentionRe.ReplaceAllString(text, " ")), " ")
}

// truncate shortens s to at most maxLen runes, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
