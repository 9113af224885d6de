package chat

import (
	"github.com/glassbead/atris/internal/session"
	"github.com/glassbead/atris/internal/trace"
)

// Sidebar colors for reply sections.
const (
	ColorInfo    = "#2196f3"
	ColorSuccess = "#36a64f"
	ColorError   = "#e53935"
)

// maxSectionBody keeps a section under the smallest platform limit
// (Discord embed descriptions).
const maxSectionBody = 4000

// FormatReply renders a finished run as a chat reply: the Question, then
// either the Result or the terminal error.
func FormatReply(st session.State) OutboundMessage {
	var msg OutboundMessage
	if q, ok := st.Question(); ok {
		msg.Sections = append(msg.Sections, Section{Title: "Question", Body: truncate(q, maxSectionBody), Color: ColorInfo})
	}

	if fail, ok := trace.Failed(st.Events); ok {
		msg.Text = "Sorry, that query failed."
		msg.Sections = append(msg.Sections, Section{
			Title: "Error (" + fail.Stage + ")",
			Body:  truncate(fail.Message, maxSectionBody),
			Color: ColorError,
		})
		return msg
	}

	if res, ok := st.Result(); ok {
		msg.Text = truncate(res, 200)
		msg.Sections = append(msg.Sections, Section{Title: "Result", Body: truncate(res, maxSectionBody), Color: ColorSuccess})
		return msg
	}

	msg.Text = "The agent finished without an answer."
	return msg
}
