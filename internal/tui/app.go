package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/moveinn/minn/internal/bus"
	"github.com/moveinn/minn/internal/conversation"
	"github.com/moveinn/minn/internal/directory"
	"github.com/moveinn/minn/internal/status"
	"github.com/moveinn/minn/internal/tui/keys"
	"github.com/moveinn/minn/internal/tui/model"
	"github.com/moveinn/minn/internal/tui/views"
	"github.com/moveinn/minn/internal/ws"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// App is the main TUI application shell. All state lives in the directory and
// the reconciler; the shell only renders snapshots when the bus says something
// changed.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	registry *keys.Registry
	flash    *model.Flash

	statusBar   *views.StatusBar
	contactList *views.ContactList
	chatWindow  *views.ChatWindow
	composer    *views.Composer
	search      *tview.InputField

	dir     *directory.Directory
	conv    *conversation.Reconciler
	channel *ws.Channel
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(dir *directory.Directory, conv *conversation.Reconciler, channel *ws.Channel,
	machine *status.Machine, b *bus.Bus, logger *zap.Logger, sessionName string) *App {

	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:         tview.NewApplication(),
		pages:       tview.NewPages(),
		registry:    keys.NewRegistry(),
		flash:       &model.Flash{},
		statusBar:   views.NewStatusBar(),
		contactList: views.NewContactList(),
		chatWindow:  views.NewChatWindow(),
		composer:    views.NewComposer(),
		search:      tview.NewInputField().SetLabel(" / ").SetFieldWidth(0),
		dir:         dir,
		conv:        conv,
		channel:     channel,
		machine:     machine,
		bus:         b,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.statusBar.SetState(string(machine.Current()))
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddPage("contacts", "search", &keys.Action{
		Rune: '/', Key: tcell.KeyRune,
		Description: "/:filter", Visible: true,
		Handler: func() { a.app.SetFocus(a.search) },
	})
	a.registry.AddPage("contacts", "follow", &keys.Action{
		Rune: 'F', Key: tcell.KeyRune,
		Description: "F:follow", Visible: true,
		Handler: func() { a.follow(true) },
	})
	a.registry.AddPage("contacts", "unfollow", &keys.Action{
		Rune: 'U', Key: tcell.KeyRune,
		Description: "U:unfollow", Visible: true,
		Handler: func() { a.follow(false) },
	})
	a.registry.AddPage("contacts", "reload", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:reload", Visible: true,
		Handler: func() {
			go func() {
				if err := a.dir.Load(a.ctx); err != nil {
					a.flash.Set("Reload failed: "+err.Error(), 5*time.Second)
				}
			}()
		},
	})
}

func (a *App) setupCallbacks() {
	a.contactList.SetSelectedFunc(func(row, col int) {
		if id := a.contactList.SelectedContact(); id != "" {
			a.openConversation(id)
		}
	})

	a.search.SetChangedFunc(func(string) {
		a.contactList.Update(a.dir.Filter(a.search.GetText()))
	})
	a.search.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape {
			a.search.SetText("")
			a.contactList.Update(a.dir.Contacts())
		}
		a.app.SetFocus(a.contactList)
	})

	a.composer.SetOnSend(func(text string) {
		contactID := a.conv.ContactID()
		if contactID == "" {
			return
		}
		// Send appends the optimistic entry before the transport call, so the
		// redraw arrives via the bus even when the channel is down.
		if _, err := a.conv.Send(text); err != nil {
			a.flash.Set("Send failed: "+err.Error(), 5*time.Second)
			a.statusBar.SetFlash(a.flash.Get())
		}
		a.dir.NoteLocalSend(contactID, text)
	})
}

func (a *App) setupLayout() {
	contactsFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.contactList, 0, 1, true).
		AddItem(a.search, 1, 0, false)

	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.chatWindow, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("contacts", contactsFlex, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "chat" {
			a.conv.Close()
			a.pages.SwitchToPage("contacts")
			a.app.SetFocus(a.contactList)
			return nil
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		// 'i' focuses the composer (only when not already in an input field).
		if currentPage == "chat" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

func (a *App) openConversation(contactID string) {
	go func() {
		a.conv.Open(a.ctx, contactID)

		name := contactID
		if c, ok := a.dir.Get(contactID); ok && c.OtherUserName != "" {
			name = c.OtherUserName
		}
		a.app.QueueUpdateDraw(func() {
			a.chatWindow.SetContactName(name)
			a.redrawChat()
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

func (a *App) follow(on bool) {
	id := a.contactList.SelectedContact()
	if id == "" {
		return
	}
	var err error
	verb := "Following"
	if on {
		err = a.channel.Follow(id)
	} else {
		verb = "Unfollowed"
		err = a.channel.Unfollow(id)
	}
	if err != nil {
		a.flash.Set("Follow failed: "+err.Error(), 5*time.Second)
	} else {
		a.flash.Set(verb+" "+id, 3*time.Second)
	}
	a.statusBar.SetFlash(a.flash.Get())
}

func (a *App) redrawChat() {
	contactID := a.conv.ContactID()
	name := contactID
	if c, ok := a.dir.Get(contactID); ok && c.OtherUserName != "" {
		name = c.OtherUserName
	}
	a.chatWindow.Update(a.conv.Messages(), name, a.conv.Mine)
}

// Run starts the TUI application and blocks until it stops.
func (a *App) Run() error {
	a.startEventLoop()
	a.startRefreshLoop()
	return a.app.Run()
}

// startEventLoop redraws the affected view whenever the bus reports a change.
// This is the only path from domain state to the screen.
func (a *App) startEventLoop() {
	ch, unsub := a.bus.Subscribe("", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				switch evt.Kind {
				case "directory.updated":
					a.app.QueueUpdateDraw(func() {
						a.contactList.Update(a.dir.Filter(a.search.GetText()))
					})
				case "conversation.updated":
					a.app.QueueUpdateDraw(func() {
						if page, _ := a.pages.GetFrontPage(); page == "chat" {
							a.redrawChat()
						}
					})
				case "channel.status_changed":
					if sc, ok := evt.Payload.(status.StatusChange); ok {
						a.app.QueueUpdateDraw(func() {
							a.statusBar.SetState(string(sc.To))
						})
					}
				}
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) startRefreshLoop() {
	clock := time.NewTicker(5 * time.Second)
	reload := time.NewTicker(time.Minute)
	go func() {
		defer clock.Stop()
		defer reload.Stop()
		for {
			select {
			case <-clock.C:
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetFlash(a.flash.Get())
				})
			case <-reload.C:
				if err := a.dir.Load(a.ctx); err != nil {
					a.logger.Warn("periodic contact reload failed", zap.Error(err))
				}
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
