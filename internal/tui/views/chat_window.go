package views

import (
	"fmt"
	"time"

	"github.com/moveinn/minn/internal/conversation"
	"github.com/moveinn/minn/internal/model"
	"github.com/rivo/tview"
)

// ChatWindow displays the transcript of the open conversation.
type ChatWindow struct {
	*tview.TextView
}

// NewChatWindow creates a new chat window.
func NewChatWindow() *ChatWindow {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &ChatWindow{TextView: tv}
}

// SetContactName updates the title with the counterpart name.
func (cw *ChatWindow) SetContactName(name string) {
	cw.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update re-renders the transcript. Messages are grouped under day separators
// relative to the wall clock, own messages carry a delivery tick.
func (cw *ChatWindow) Update(msgs []model.Message, contactName string, mine func(model.Message) bool) {
	cw.Clear()

	for _, group := range conversation.GroupByDay(msgs, time.Now()) {
		_, _ = fmt.Fprintf(cw, "[::d]--- %s ---[-:-:-]\n\n", group.Label)
		for _, m := range group.Messages {
			sender := contactName
			suffix := ""
			if mine(m) {
				sender = "You"
				suffix = " " + statusTick(m.Status)
			}

			ts := m.SentAt.Format("15:04")
			_, _ = fmt.Fprintf(cw, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
				sender, ts, suffix, sanitizeForTerminal(m.Content))
		}
	}

	cw.ScrollToEnd()
}

func statusTick(s model.Status) string {
	switch s {
	case model.StatusRead:
		return "[blue]✓✓[-]"
	case model.StatusDelivered:
		return "✓✓"
	default:
		return "[::d]✓[-:-:-]"
	}
}
