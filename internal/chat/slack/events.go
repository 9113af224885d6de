package slack

import (
	"strconv"
	"strings"
	"time"

	"github.com/glassbead/atris/internal/chat"
	"github.com/slack-go/slack/slackevents"
)

// toInbound turns an Events API payload into a message for the bridge.
//
// Only two shapes are addressed to the bot: a plain message in a direct
// message channel, and an app_mention. Ordinary channel messages are also
// delivered as message events when the bot is a member; those are dropped
// so a mention is answered once. A top-level mention is threaded under
// itself so the reply and any follow-ups share a session.
func toInbound(data interface{}, botID, onlyChannel string) (chat.InboundMessage, bool) {
	ev, ok := data.(slackevents.EventsAPIEvent)
	if !ok || ev.Type != slackevents.CallbackEvent {
		return chat.InboundMessage{}, false
	}

	switch inner := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if inner.ChannelType != "im" || inner.SubType != "" || inner.BotID != "" || inner.User == botID {
			return chat.InboundMessage{}, false
		}
		return chat.InboundMessage{
			Platform:  "slack",
			ChannelID: inner.Channel,
			ThreadID:  inner.ThreadTimeStamp,
			UserID:    inner.User,
			Text:      inner.Text,
			Direct:    true,
			Timestamp: slackTime(inner.TimeStamp),
		}, true

	case *slackevents.AppMentionEvent:
		if inner.User == botID || (onlyChannel != "" && inner.Channel != onlyChannel) {
			return chat.InboundMessage{}, false
		}
		thread := inner.ThreadTimeStamp
		if thread == "" {
			thread = inner.TimeStamp
		}
		return chat.InboundMessage{
			Platform:  "slack",
			ChannelID: inner.Channel,
			ThreadID:  thread,
			UserID:    inner.User,
			Text:      inner.Text,
			Mentioned: true,
			Bot:       inner.BotID != "",
			Timestamp: slackTime(inner.TimeStamp),
		}, true
	}
	return chat.InboundMessage{}, false
}

// slackTime parses a message ts ("1700000000.000100": seconds, then
// microseconds). Malformed values give the zero time.
func slackTime(ts string) time.Time {
	secs, micros, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	us, _ := strconv.ParseInt(micros, 10, 64)
	return time.Unix(s, us*int64(time.Microsecond))
}
