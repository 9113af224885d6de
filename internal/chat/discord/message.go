package discord

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/glassbead/atris/internal/chat"
)

// toInbound turns a created message into a message for the bridge. Only
// direct messages and guild messages that mention the bot are kept.
//
// A message posted in a thread carries the thread's ID as its ChannelID;
// parentOf maps it back so the reply goes to the thread and the session is
// keyed by parent channel and thread.
func toInbound(m *discordgo.Message, botID, onlyChannel string, parentOf func(string) string) (chat.InboundMessage, bool) {
	if m == nil || m.Author == nil || botID == "" || m.Author.ID == botID {
		return chat.InboundMessage{}, false
	}
	direct := m.GuildID == ""
	mentioned := mentionsUser(m, botID)
	if !direct && !mentioned {
		return chat.InboundMessage{}, false
	}

	channel, thread := m.ChannelID, ""
	if !direct {
		if parent := parentOf(m.ChannelID); parent != "" {
			channel, thread = parent, m.ChannelID
		}
		if onlyChannel != "" && channel != onlyChannel {
			return chat.InboundMessage{}, false
		}
	}

	msg := chat.InboundMessage{
		Platform:  "discord",
		ChannelID: channel,
		ThreadID:  thread,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Direct:    direct,
		Mentioned: mentioned,
		Bot:       m.Author.Bot,
		Timestamp: m.Timestamp,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp, _ = discordgo.SnowflakeTimestamp(m.ID)
	}
	return msg, true
}

func mentionsUser(m *discordgo.Message, userID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

// messageSend renders a reply: the text as content and one embed per
// section, with pings suppressed.
func messageSend(msg chat.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{
		Content:         msg.Text,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	for _, s := range msg.Sections {
		data.Embeds = append(data.Embeds, &discordgo.MessageEmbed{
			Title:       s.Title,
			Description: s.Body,
			Color:       embedColor(s.Color),
		})
	}
	return data
}

// embedColor converts "#rrggbb" to Discord's integer color. Anything else
// gives 0, the default.
func embedColor(hex string) int {
	n, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil || n > 0xffffff {
		return 0
	}
	return int(n)
}
