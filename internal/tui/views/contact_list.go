package views

import (
	"time"

	"github.com/moveinn/minn/internal/model"
	"github.com/rivo/tview"
)

// ContactList is the main contact directory view (K9s-inspired table).
type ContactList struct {
	*tview.Table
	contacts   []model.Contact
	selectedFn func() (int, int)
}

// NewContactList creates a new contact table.
func NewContactList() *ContactList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Contacts ")

	cl := &ContactList{Table: table}
	cl.selectedFn = table.GetSelection
	return cl
}

// Update refreshes the table with a fresh contact snapshot, preserving its
// order. An empty set renders a hint instead of a bare table.
func (cl *ContactList) Update(contacts []model.Contact) {
	cl.contacts = contacts
	cl.Clear()

	if len(contacts) == 0 {
		cl.SetCell(0, 0, tview.NewTableCell(" No conversations yet").SetSelectable(false))
		return
	}

	cl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, c := range contacts {
		row := i + 1
		name := c.OtherUserName
		if name == "" {
			name = c.OtherUserID
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+sanitizeForTerminal(name)).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+sanitizeForTerminal(c.LastMessage)).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(c.LastMessageAt)).SetMaxWidth(12))
	}
}

// SelectedContact returns the counterpart id of the selected row.
func (cl *ContactList) SelectedContact() string {
	row, _ := cl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.contacts) {
		return cl.contacts[idx].OtherUserID
	}
	return ""
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("02/01")
}
