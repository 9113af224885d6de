package slack

import (
	"github.com/glassbead/atris/internal/chat"
	slackapi "github.com/slack-go/slack"
)

// replyOptions renders a reply: threaded when it has a ThreadID, one
// attachment per section with a colored sidebar and mrkdwn body. The text
// is always sent since Slack uses it for notifications.
func replyOptions(msg chat.OutboundMessage) []slackapi.MsgOption {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if msg.ThreadID != "" {
		opts = append(opts, slackapi.MsgOptionTS(msg.ThreadID))
	}
	if len(msg.Sections) == 0 {
		return opts
	}
	atts := make([]slackapi.Attachment, 0, len(msg.Sections))
	for _, s := range msg.Sections {
		atts = append(atts, slackapi.Attachment{
			Color:      s.Color,
			Title:      s.Title,
			Text:       s.Body,
			Fallback:   s.Title + ": " + s.Body,
			MarkdownIn: []string{"text"},
		})
	}
	return append(opts, slackapi.MsgOptionAttachments(atts...))
}
