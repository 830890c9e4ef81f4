// Package ui provides the Fyne-based GUI for the randchat client.
package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/NicolasHaas/randchat/pkg/client"
	"github.com/NicolasHaas/randchat/pkg/logging"
	"github.com/NicolasHaas/randchat/pkg/model"
	"github.com/NicolasHaas/randchat/pkg/protocol"
	"github.com/NicolasHaas/randchat/pkg/session"
	"github.com/NicolasHaas/randchat/pkg/store"
	"github.com/NicolasHaas/randchat/pkg/version"
)

const maxChatObjects = 500

// App is the main GUI application.
type App struct {
	fyneApp fyne.App
	window  fyne.Window
	engine  *client.Engine
	log     *slog.Logger

	// UI components
	connectBtn     *widget.Button
	logoutBtn      *widget.Button
	findBtn        *widget.Button
	skipBtn        *widget.Button
	interestSelect *widget.Select
	rosterList     *widget.List
	statusLabel    *widget.Label
	bannerLabel    *widget.Label
	banner         *fyne.Container

	// Chat UI
	chatHeader *widget.Label
	chatBox    *fyne.Container
	chatScroll *container.Scroll
	chatEntry  *widget.Entry
	imageBtn   *widget.Button

	// State, touched only on the fyne goroutine
	snap      client.Snapshot
	shown     int
	noteID    uint64
	suppress  bool // interest select changed programmatically
	endpoint  string
	askedName bool // register dialog already offered for the current connection

	// Settings & persistence
	settings     *client.Settings
	settingsPath string
	servers      *client.ServerList
	store        store.ProfileStore
	metrics      *client.Metrics
	stopMetrics  context.CancelFunc
}

// NewApp creates the GUI around settings loaded from settingsPath.
func NewApp(settings *client.Settings, settingsPath string, st store.ProfileStore) *App {
	a := &App{
		fyneApp:      app.NewWithID("io.randchat.client"),
		log:          logging.For("ui"),
		settings:     settings,
		settingsPath: settingsPath,
		servers:      client.NewServerList(""),
		store:        st,
		metrics:      client.NewMetrics(),
	}
	if err := a.servers.Load(); err != nil {
		a.log.Warn("load servers", "err", err)
	}
	a.window = a.fyneApp.NewWindow("randchat")
	a.window.Resize(fyne.NewSize(820, 600))
	a.window.SetMaster()
	return a
}

// Run starts the GUI application (blocks).
func (a *App) Run() {
	a.buildUI()
	a.startMetrics()
	a.window.SetCloseIntercept(func() {
		a.shutdown()
		a.fyneApp.Quit()
	})
	a.window.Show()
	a.showConnectDialog()
	a.fyneApp.Run()
}

func (a *App) startMetrics() {
	if a.settings.MetricsAddr == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.stopMetrics = cancel
	go func() {
		if err := a.metrics.Serve(ctx, a.settings.MetricsAddr); err != nil {
			a.log.Warn("metrics endpoint stopped", "addr", a.settings.MetricsAddr, "err", err)
		}
	}()
}

func (a *App) shutdown() {
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.log.Debug("close engine", "err", err)
		}
	}
	if a.stopMetrics != nil {
		a.stopMetrics()
	}
}

func (a *App) buildUI() {
	// --- Toolbar ---
	a.connectBtn = widget.NewButtonWithIcon("Connect", theme.LoginIcon(), a.showConnectDialog)
	a.logoutBtn = widget.NewButtonWithIcon("Logout", theme.LogoutIcon(), func() {
		if a.engine == nil {
			return
		}
		if err := a.engine.Logout(); err != nil {
			a.log.Debug("logout", "err", err)
		}
	})
	a.logoutBtn.Disable()

	a.findBtn = widget.NewButtonWithIcon("Find", theme.SearchIcon(), func() {
		a.act(a.engine.FindNewUser)
	})
	a.skipBtn = widget.NewButtonWithIcon("Skip", theme.MediaSkipNextIcon(), func() {
		a.act(a.engine.Skip)
	})
	a.findBtn.Disable()
	a.skipBtn.Disable()

	a.interestSelect = widget.NewSelect(model.InterestNames(), func(selected string) {
		if a.suppress || a.engine == nil {
			return
		}
		in, err := model.ParseInterest(selected)
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		a.act(func() error { return a.engine.ChangeInterest(in) })
	})
	a.interestSelect.Disable()

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), a.showSettingsDialog)
	helpBtn := widget.NewButtonWithIcon("", theme.InfoIcon(), a.showHelpDialog)

	toolbar := container.NewHBox(
		a.connectBtn,
		a.logoutBtn,
		widget.NewSeparator(),
		a.findBtn,
		a.skipBtn,
		widget.NewLabel("Interest:"),
		a.interestSelect,
		layout.NewSpacer(),
		settingsBtn,
		helpBtn,
	)

	// --- Notification banner ---
	a.bannerLabel = widget.NewLabel("")
	a.bannerLabel.TextStyle = fyne.TextStyle{Bold: true}
	a.bannerLabel.Wrapping = fyne.TextWrapWord
	dismissBtn := widget.NewButtonWithIcon("", theme.CancelIcon(), func() {
		if a.engine != nil {
			a.engine.Dismiss()
		}
	})
	dismissBtn.Importance = widget.LowImportance
	a.banner = container.NewBorder(nil, nil, widget.NewIcon(theme.InfoIcon()), dismissBtn, a.bannerLabel)
	a.banner.Hide()

	// --- Roster (sidebar) ---
	a.rosterList = widget.NewList(
		func() int { return len(a.snap.Session.Roster) },
		func() fyne.CanvasObject {
			return container.NewHBox(widget.NewIcon(theme.AccountIcon()), widget.NewLabel("Username placeholder"))
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			roster := a.snap.Session.Roster
			if id >= len(roster) {
				return
			}
			label := obj.(*fyne.Container).Objects[1].(*widget.Label)
			name := roster[id]
			if name == a.snap.Session.Username {
				label.SetText(name + " (you)")
				label.TextStyle = fyne.TextStyle{Bold: true}
			} else {
				label.SetText(name)
				label.TextStyle = fyne.TextStyle{}
			}
			label.Refresh()
		},
	)
	sidebar := container.NewBorder(
		widget.NewLabelWithStyle("In this chat", fyne.TextAlignCenter, fyne.TextStyle{Bold: true}),
		nil, nil, nil,
		a.rosterList,
	)

	// --- Status ---
	a.statusLabel = widget.NewLabel("Disconnected")
	a.statusLabel.TextStyle = fyne.TextStyle{Italic: true}

	versionLabel := widget.NewLabel(version.String())
	versionLabel.TextStyle = fyne.TextStyle{Italic: true}
	versionLabel.Importance = widget.LowImportance

	// --- Chat panel (right side) ---
	a.chatBox = container.NewVBox()
	a.chatScroll = container.NewVScroll(a.chatBox)

	a.chatEntry = widget.NewEntry()
	a.chatEntry.SetPlaceHolder("Type a message... (Enter to send)")
	a.chatEntry.Disable()
	a.chatEntry.OnSubmitted = func(text string) {
		text = strings.TrimSpace(text)
		if text == "" || a.engine == nil {
			return
		}
		if err := a.engine.SendMessage(text); err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		a.chatEntry.SetText("")
	}
	a.imageBtn = widget.NewButtonWithIcon("", theme.FileImageIcon(), a.showImagePicker)
	a.imageBtn.Disable()

	a.chatHeader = widget.NewLabelWithStyle("No partner", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
	inputRow := container.NewBorder(nil, nil, nil, a.imageBtn, a.chatEntry)
	chatPanel := container.NewBorder(a.chatHeader, inputRow, nil, nil, a.chatScroll)

	// --- Main layout ---
	mainArea := container.NewHSplit(sidebar, chatPanel)
	mainArea.SetOffset(0.25)

	statusBar := container.NewHBox(a.statusLabel, layout.NewSpacer(), versionLabel)

	content := container.NewBorder(
		container.NewVBox(toolbar, a.banner),
		statusBar,
		nil, nil,
		mainArea,
	)

	a.window.SetContent(content)
}

// act runs an engine action off the fyne goroutine and reports its error.
func (a *App) act(fn func() error) {
	if a.engine == nil {
		return
	}
	go func() {
		if err := fn(); err != nil {
			fyne.Do(func() { dialog.ShowError(err, a.window) })
		}
	}()
}

// startEngine replaces the engine with one connected to endpoint.
func (a *App) startEngine(endpoint string) (*client.Engine, error) {
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.log.Debug("close previous engine", "err", err)
		}
		a.engine = nil
	}
	settings := *a.settings
	settings.Endpoint = endpoint
	cfg, err := settings.EngineConfig(a.store, a.metrics)
	if err != nil {
		return nil, err
	}
	eng := client.NewEngine(cfg)
	a.bindEvents(eng)
	a.engine = eng
	a.endpoint = endpoint
	a.askedName = false
	return eng, nil
}

func (a *App) bindEvents(eng *client.Engine) {
	eng.OnChange = func(snap client.Snapshot) {
		fyne.Do(func() {
			if a.engine == eng {
				a.render(snap)
			}
		})
	}

	eng.OnError = func(err error) {
		fyne.Do(func() {
			if a.engine != eng {
				return
			}
			var verr *model.ValidationError
			if errors.As(err, &verr) && verr.Remote {
				d := dialog.NewError(fmt.Errorf("%s was rejected: %v", verr.Value, verr.Reason), a.window)
				d.SetOnClosed(a.showRegisterDialog)
				d.Show()
				return
			}
			dialog.ShowError(err, a.window)
		})
	}

	eng.OnRegistered = func(id model.Identity) {
		a.log.Info("registered", "username", id.Username, "interest", id.Interest)
	}
}

func (a *App) render(snap client.Snapshot) {
	prev := a.snap
	a.snap = snap
	s := snap.Session

	connected := snap.Conn == client.StateConnected
	registered := s.Phase != session.PhaseUnregistered

	a.statusLabel.SetText(statusText(snap))
	if connected {
		a.connectBtn.Disable()
	} else {
		a.connectBtn.Enable()
	}
	if connected || registered {
		a.logoutBtn.Enable()
	} else {
		a.logoutBtn.Disable()
	}
	setEnabled(a.findBtn, registered && s.Phase != session.PhaseMatched && !s.Searching)
	setEnabled(a.skipBtn, s.Phase == session.PhaseMatched)
	setEnabled(a.chatEntry, s.Phase == session.PhaseMatched)
	setEnabled(a.imageBtn, s.Phase == session.PhaseMatched)
	setEnabled(a.interestSelect, registered)
	if registered && string(s.Interest) != a.interestSelect.Selected {
		a.suppress = true
		a.interestSelect.SetSelected(string(s.Interest))
		a.suppress = false
	}

	if s.Partner != "" {
		a.chatHeader.SetText("Chatting with " + s.Partner)
	} else if s.Searching {
		a.chatHeader.SetText("Searching for a partner...")
	} else {
		a.chatHeader.SetText("No partner")
	}
	a.rosterList.Refresh()
	a.renderMessages(prev, snap)
	a.renderBanner(snap)

	// Connected but not registered: after a reconnect the session is gone.
	if connected && !registered && !s.Pending && !a.askedName && prev.Conn != client.StateConnected {
		a.askedName = true
		a.showRegisterDialog()
	}
	if !connected {
		a.askedName = false
	}
}

func (a *App) renderMessages(prev, snap client.Snapshot) {
	if snap.Session.Partner != prev.Session.Partner || len(snap.Messages) < a.shown {
		a.chatBox.Objects = nil
		a.chatBox.Refresh()
		a.shown = 0
	}
	if len(snap.Messages) == a.shown {
		return
	}
	for _, m := range snap.Messages[a.shown:] {
		a.chatBox.Add(a.messageObject(m, snap.Session.Username))
	}
	a.shown = len(snap.Messages)
	if len(a.chatBox.Objects) > maxChatObjects {
		a.chatBox.Objects = a.chatBox.Objects[len(a.chatBox.Objects)-maxChatObjects:]
		a.chatBox.Refresh()
	}
	a.chatScroll.ScrollToBottom()
}

func (a *App) messageObject(m model.Message, self string) fyne.CanvasObject {
	author := m.Author
	if m.IsFrom(self) {
		author = "You"
	}
	ts := m.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	lbl := widget.NewLabel(fmt.Sprintf("[%s] %s: %s", ts.Format("15:04"), author, m.Text))
	lbl.Wrapping = fyne.TextWrapWord
	if !m.HasImage() {
		return lbl
	}
	data, mime, err := protocol.DecodeImage(m.Image)
	if err != nil {
		return lbl
	}
	img := canvas.NewImageFromResource(fyne.NewStaticResource("attachment."+strings.TrimPrefix(mime, "image/"), data))
	img.FillMode = canvas.ImageFillContain
	img.SetMinSize(fyne.NewSize(240, 180))
	return container.NewVBox(lbl, img)
}

func (a *App) renderBanner(snap client.Snapshot) {
	n := snap.Notification
	if n == nil {
		a.banner.Hide()
		return
	}
	if n.ID != a.noteID {
		a.noteID = n.ID
		a.bannerLabel.SetText(n.Text)
	}
	a.banner.Show()
}

func statusText(snap client.Snapshot) string {
	s := snap.Session
	switch snap.Conn {
	case client.StateConnecting:
		return "Connecting..."
	case client.StateReconnecting:
		return "Connection lost, reconnecting..."
	case client.StateDisconnected, client.StateClosed:
		return "Disconnected"
	}
	switch {
	case s.Pending:
		return "Registering..."
	case s.Phase == session.PhaseUnregistered:
		return "Connected, not registered"
	case s.Phase == session.PhaseMatched:
		return fmt.Sprintf("%s (%s), matched with %s", s.Username, s.Interest, s.Partner)
	case s.Searching:
		return fmt.Sprintf("%s (%s), searching", s.Username, s.Interest)
	default:
		return fmt.Sprintf("%s (%s), waiting for a partner", s.Username, s.Interest)
	}
}

type enabler interface {
	Enable()
	Disable()
}

func setEnabled(w enabler, on bool) {
	if on {
		w.Enable()
	} else {
		w.Disable()
	}
}

// identityForm returns a username entry and an interest select pre-filled from the saved
// profile, or from the settings' default interest.
func (a *App) identityForm() (*widget.Entry, *widget.Select) {
	usernameEntry := widget.NewEntry()
	usernameEntry.SetPlaceHolder("Letters, digits and _ only")
	interestSelect := widget.NewSelect(model.InterestNames(), nil)
	interestSelect.SetSelected(string(a.settings.DefaultInterest))

	p, err := a.store.LoadProfile()
	if err != nil {
		a.log.Warn("load profile", "err", err)
	}
	if p != nil {
		usernameEntry.SetText(p.Username)
		interestSelect.SetSelected(string(p.Interest))
	}
	usernameEntry.Validator = model.ValidateUsername
	return usernameEntry, interestSelect
}

func (a *App) showConnectDialog() {
	endpointEntry := widget.NewEntry()
	endpointEntry.SetPlaceHolder(client.DefaultDevEndpoint)
	if endpoint, err := a.settings.ResolveEndpoint(); err == nil {
		endpointEntry.SetText(endpoint)
	}
	if a.endpoint != "" {
		endpointEntry.SetText(a.endpoint)
	}

	usernameEntry, interestSelect := a.identityForm()
	saveCheck := widget.NewCheck("Save server", nil)

	const newServer = "(New Server)"
	recent := a.servers.Recent()
	labels := make([]string, 0, len(recent)+1)
	labels = append(labels, newServer)
	byLabel := make(map[string]client.Server, len(recent))
	for _, s := range recent {
		label := fmt.Sprintf("%s (%s)", s.Name, s.Endpoint)
		labels = append(labels, label)
		byLabel[label] = s
	}
	savedSelect := widget.NewSelect(labels, func(selected string) {
		if s, ok := byLabel[selected]; ok {
			endpointEntry.SetText(s.Endpoint)
			saveCheck.SetChecked(true)
			return
		}
		saveCheck.SetChecked(false)
	})
	if len(recent) > 0 && a.endpoint == "" {
		savedSelect.SetSelected(labels[1])
	} else {
		savedSelect.SetSelected(newServer)
	}

	content := container.NewVBox(
		widget.NewLabel("Saved"),
		savedSelect,
		widget.NewSeparator(),
		widget.NewLabel("Server"),
		endpointEntry,
		saveCheck,
		widget.NewSeparator(),
		widget.NewLabel("Username"),
		usernameEntry,
		widget.NewLabel("Interest"),
		interestSelect,
	)

	d := dialog.NewCustomConfirm("Connect", "Connect", "Cancel", content, func(ok bool) {
		if !ok {
			return
		}
		endpoint := strings.TrimSpace(endpointEntry.Text)
		if err := validateEndpoint(endpoint); err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		username := strings.TrimSpace(usernameEntry.Text)
		if err := model.ValidateUsername(username); err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		interest, err := model.ParseInterest(interestSelect.Selected)
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		if saveCheck.Checked {
			a.saveServer(endpoint)
		}

		eng, err := a.startEngine(endpoint)
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		a.askedName = true
		go func() {
			if err := eng.Connect(context.Background()); err != nil {
				a.log.Error("connect failed", "endpoint", endpoint, "err", err)
				fyne.Do(func() {
					dialog.ShowError(fmt.Errorf("connection failed: %v", err), a.window)
				})
				return
			}
			if err := eng.Register(username, interest); err != nil {
				fyne.Do(func() { dialog.ShowError(err, a.window) })
			}
		}()
	}, a.window)
	d.Resize(fyne.NewSize(440, 460))
	d.Show()
}

// showRegisterDialog registers again on the open connection, pre-filled from the last
// registration.
func (a *App) showRegisterDialog() {
	eng := a.engine
	if eng == nil {
		return
	}
	usernameEntry, interestSelect := a.identityForm()
	content := container.NewVBox(
		widget.NewLabel("Username"),
		usernameEntry,
		widget.NewLabel("Interest"),
		interestSelect,
	)
	d := dialog.NewCustomConfirm("Register", "Register", "Cancel", content, func(ok bool) {
		if !ok {
			return
		}
		username := strings.TrimSpace(usernameEntry.Text)
		interest, err := model.ParseInterest(interestSelect.Selected)
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		go func() {
			if err := eng.Register(username, interest); err != nil {
				fyne.Do(func() {
					d := dialog.NewError(err, a.window)
					d.SetOnClosed(a.showRegisterDialog)
					d.Show()
				})
			}
		}()
	}, a.window)
	d.Resize(fyne.NewSize(380, 260))
	d.Show()
}

func (a *App) showImagePicker() {
	eng := a.engine
	if eng == nil {
		return
	}
	picker := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		if rc == nil {
			return
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, protocol.MaxImageBytes+1))
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		caption := strings.TrimSpace(a.chatEntry.Text)
		go func() {
			if err := eng.SendImage(caption, data); err != nil {
				fyne.Do(func() { dialog.ShowError(err, a.window) })
				return
			}
			fyne.Do(func() { a.chatEntry.SetText("") })
		}()
	}, a.window)
	picker.Show()
}

func (a *App) showSettingsDialog() {
	interestSelect := widget.NewSelect(model.InterestNames(), nil)
	interestSelect.SetSelected(string(a.settings.DefaultInterest))

	timeoutEntry := widget.NewEntry()
	timeoutEntry.SetText(a.settings.NotificationTimeout.String())

	autoSearch := widget.NewCheck("Search again when the partner disconnects", nil)
	autoSearch.SetChecked(a.settings.AutoSearchOnDisconnect)
	localEcho := widget.NewCheck("Show my messages immediately", nil)
	localEcho.SetChecked(a.settings.LocalEcho)

	skipSelect := widget.NewSelect([]string{string(session.SkipSelf), string(session.SkipPartner)}, nil)
	skipSelect.SetSelected(a.settings.SkipTarget)
	searchSelect := widget.NewSelect([]string{string(protocol.CommandSearch), string(protocol.CommandFindNewUser)}, nil)
	searchSelect.SetSelected(a.settings.SearchCommand)

	content := container.NewVBox(
		widget.NewLabelWithStyle("Chat", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		widget.NewSeparator(),
		container.NewHBox(widget.NewLabel("Default interest:"), interestSelect),
		container.NewHBox(widget.NewLabel("Notification timeout:"), timeoutEntry),
		autoSearch,
		localEcho,
		widget.NewSeparator(),
		widget.NewLabelWithStyle("Protocol", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		widget.NewSeparator(),
		container.NewHBox(widget.NewLabel("Skip carries:"), skipSelect),
		container.NewHBox(widget.NewLabel("Search command:"), searchSelect),
	)

	d := dialog.NewCustomConfirm("Settings", "Apply", "Cancel", content, func(ok bool) {
		if !ok {
			return
		}
		timeout, err := time.ParseDuration(strings.TrimSpace(timeoutEntry.Text))
		if err != nil || timeout <= 0 {
			dialog.ShowError(fmt.Errorf("notification timeout: expected a duration such as 5s"), a.window)
			return
		}
		next := *a.settings
		next.DefaultInterest = model.Interest(interestSelect.Selected)
		next.NotificationTimeout = timeout
		next.AutoSearchOnDisconnect = autoSearch.Checked
		next.LocalEcho = localEcho.Checked
		next.SkipTarget = skipSelect.Selected
		next.SearchCommand = searchSelect.Selected
		if err := next.Validate(); err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		*a.settings = next
		if err := a.settings.Save(a.settingsPath); err != nil {
			a.log.Error("save settings", "err", err)
		}
		dialog.ShowInformation("Settings", "Settings saved. Changes apply on the next connection.", a.window)
	}, a.window)
	d.Resize(fyne.NewSize(460, 420))
	d.Show()
}

func (a *App) showHelpDialog() {
	helpText := "randchat: talk to a random stranger\n\n" +
		"TOOLBAR\n" +
		"  Connect   Pick a server, a username and an interest\n" +
		"  Logout    End the session and forget the saved username\n" +
		"  Find      Look for a partner with the same interest\n" +
		"  Skip      Leave the current partner\n" +
		"  Interest  Change who you are paired with\n\n" +
		"CHAT\n" +
		"  Press Enter to send a message.\n" +
		"  The picture button sends an image; the text in\n" +
		"  the entry becomes its caption.\n" +
		"  The chat is cleared when the partner changes.\n\n" +
		"USERNAMES\n" +
		"  Letters, digits and _ only.\n" +
		"  After a lost connection you register again."

	label := widget.NewLabel(helpText)
	label.TextStyle = fyne.TextStyle{Monospace: true}
	scroll := container.NewVScroll(label)
	scroll.SetMinSize(fyne.NewSize(430, 360))

	d := dialog.NewCustom("Help", "Close", scroll, a.window)
	d.Resize(fyne.NewSize(480, 430))
	d.Show()
}

func (a *App) saveServer(endpoint string) {
	name := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		name = u.Host
	}
	if existing := a.servers.Find(endpoint); existing != nil {
		name = existing.Name
	}
	a.servers.Add(client.Server{Name: name, Endpoint: endpoint, LastUsed: time.Now().Unix()})
	if err := a.servers.Save(); err != nil {
		a.log.Error("failed to save server", "err", err)
	}
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("server must be a ws:// or wss:// URL, got %q", endpoint)
	}
	return nil
}
