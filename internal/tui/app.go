package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/notifeed/internal/config"
	"github.com/pders01/notifeed/internal/debuglog"
	"github.com/pders01/notifeed/internal/feed"
	"github.com/pders01/notifeed/internal/notification"
	"github.com/pders01/notifeed/internal/opener"
	"github.com/pders01/notifeed/internal/search"
)

const (
	defaultSearchDebounce = 150 * time.Millisecond
	// status line, help line and separator
	chromeHeight = 3
)

type App struct {
	ctx        context.Context
	errs       <-chan error
	config     *config.Config
	ctrl       *feed.Controller
	opener     *opener.Opener
	searcher   search.Searcher
	formatter  *notification.Registry
	log        *debuglog.FieldLogger
	keyHandler *KeyHandler

	feedList    list.Model
	searchList  list.Model
	searchInput textinput.Model
	viewport    viewport.Model
	help        help.Model
	spinner     spinner.Model

	view           View
	previousView   View
	cameFromSearch bool

	state    feed.State
	current  *notification.Notification
	toDelete *notification.Notification

	searchSeq          int
	pendingSearchQuery string
	// indexMu orders index runs so a later run never indexes an older
	// snapshot than an earlier one.
	indexMu        sync.Mutex
	searchDebounce time.Duration

	status     string
	statusKind StatusKind
	pending    int
	err        error

	width           int
	height          int
	glamourRenderer *glamour.TermRenderer
	rendererWidth   int
	loadingDetail   bool
}

// NewApp builds the TUI around ctrl. The context bounds every controller
// call the UI starts; cancel it to abandon in-flight work on exit.
func NewApp(ctx context.Context, ctrl *feed.Controller, cfg *config.Config) *App {
	ApplyColors(cfg.UI.Colors)

	feedList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	feedList.Title = "› notifications"
	feedList.SetShowStatusBar(false)
	feedList.SetFilteringEnabled(true)
	feedList.SetShowHelp(false)

	searchList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	searchList.Title = "› search results"
	searchList.SetShowStatusBar(false)
	searchList.SetShowHelp(false)
	searchList.SetFilteringEnabled(false)

	si := textinput.New()
	si.Placeholder = "Search loaded notifications..."
	si.CharLimit = maxSearchQueryLength

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(AccentColor)

	searcher, err := search.New(cfg.Search.Engine)
	log := debuglog.WithFields(map[string]interface{}{"component": "tui", "user": ctrl.UserID()})
	if err != nil {
		log.Warnf("search engine %q unavailable, using simple engine: %v", cfg.Search.Engine, err)
	}

	app := &App{
		ctx:            ctx,
		config:         cfg,
		ctrl:           ctrl,
		opener:         opener.New(cfg.Opener),
		searcher:       searcher,
		formatter:      notification.NewRegistry(),
		log:            log,
		feedList:       feedList,
		searchList:     searchList,
		searchInput:    si,
		viewport:       viewport.New(0, 0),
		help:           help.New(),
		spinner:        sp,
		view:           ViewFeed,
		previousView:   ViewFeed,
		searchDebounce: defaultSearchDebounce,
		state:          ctrl.Snapshot(),
	}
	app.keyHandler = NewKeyHandler(app, cfg)
	return app
}

// WithErrors makes the app show errors from background work, typically the
// channel fed by the controller's OnError hook.
func (a *App) WithErrors(errs <-chan error) *App {
	a.errs = errs
	return a
}

func (a *App) Init() tea.Cmd {
	a.ctrl.StartPolling(a.ctx)
	return tea.Batch(
		a.startOp(MsgRefreshing, a.refresh()),
		a.waitForChange(),
		a.waitForError(),
		tea.EnterAltScreen,
	)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		return a, nil

	case tea.KeyMsg:
		return a.keyHandler.HandleKey(msg)

	case feedChangedMsg:
		a.applySnapshot(a.ctrl.Snapshot())
		return a, tea.Batch(a.waitForChange(), a.indexSearch())

	case opDoneMsg:
		return a, a.finishOp(msg)

	case detailRenderedMsg:
		if a.view == ViewDetail && a.current != nil && a.current.ID == msg.id {
			a.viewport.SetContent(msg.content)
			a.viewport.GotoTop()
			a.loadingDetail = false
		}
		return a, nil

	case searchDebounceFireMsg:
		if msg.seq != a.searchSeq || a.view != ViewSearch {
			return a, nil
		}
		if a.pendingSearchQuery == "" {
			a.searchList.SetItems([]list.Item{})
			return a, nil
		}
		return a, a.performSearch(a.pendingSearchQuery, msg.seq)

	case searchResultsMsg:
		if msg.seq != a.searchSeq || a.view != ViewSearch {
			return a, nil
		}
		found := searchResultsToItems(msg.results, a.formatter)
		items := make([]list.Item, len(found))
		for i := range found {
			items[i] = found[i]
		}
		a.searchList.SetItems(items)
		if len(items) == 0 {
			a.setStatus(MsgNoResults, StatusInfo)
		} else {
			a.setStatus(MsgResultsCount(len(items)), StatusInfo)
		}
		return a, nil

	case errorMsg:
		a.err = msg.err
		a.setStatus(userMessage(msg.err), StatusError)
		return a, nil

	case backgroundErrMsg:
		a.err = msg.err
		a.setStatus(userMessage(msg.err), StatusError)
		return a, a.waitForError()

	case spinner.TickMsg:
		if a.pending == 0 {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	switch a.view {
	case ViewDetail:
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	case ViewFeed:
		var cmd tea.Cmd
		a.feedList, cmd = a.feedList.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) resize(width, height int) {
	a.width = width
	a.height = height
	body := max(height-chromeHeight, 1)

	a.feedList.SetSize(width, body)
	// header, input frame and spacing above the results
	a.searchList.SetSize(width, max(body-6, 5))
	a.viewport.Width = width
	a.viewport.Height = body
	a.help.Width = width

	inputWidth := width - 8
	if inputWidth < 10 {
		inputWidth = max(width-4, 1)
	}
	a.searchInput.Width = inputWidth
}

// startOp shows status with a spinner until the matching opDoneMsg arrives.
func (a *App) startOp(status string, cmd tea.Cmd) tea.Cmd {
	a.setStatus(status, StatusInfo)
	a.pending++
	if a.pending == 1 {
		return tea.Batch(cmd, a.spinner.Tick)
	}
	return cmd
}

func (a *App) finishOp(msg opDoneMsg) tea.Cmd {
	if a.pending > 0 {
		a.pending--
	}
	if msg.err != nil {
		a.err = msg.err
		a.setStatus(userMessage(msg.err), StatusError)
		if msg.op == "delete" && a.view == ViewDeleteConfirm {
			a.view = a.previousView
			a.toDelete = nil
		}
		return nil
	}

	a.err = nil
	switch msg.op {
	case "delete":
		a.toDelete = nil
		a.current = nil
		a.view = ViewFeed
		a.cameFromSearch = false
	case "load-more":
		if !a.ctrl.Snapshot().HasMore {
			a.setStatus(MsgEndOfFeed, StatusInfo)
			return nil
		}
		st := a.ctrl.Snapshot()
		a.setStatus(MsgLoadedSummary(len(st.Items), st.UnreadCount, st.HasMore), StatusInfo)
		return nil
	}
	if msg.status != "" {
		a.setStatus(msg.status, StatusSuccess)
	}
	return nil
}

func (a *App) setStatus(text string, kind StatusKind) {
	a.status = text
	a.statusKind = kind
}

// applySnapshot copies controller state into the list, keeping the
// selection on the same notification where possible.
func (a *App) applySnapshot(st feed.State) {
	var selected notification.ID
	if n := a.selectedNotification(); n != nil {
		selected = n.ID
	}

	a.state = st
	items := make([]list.Item, len(st.Items))
	index := -1
	for i := range st.Items {
		n := st.Items[i]
		items[i] = notificationItem{
			n:       n,
			summary: a.formatter.Describe(&n),
			preview: notification.Preview(&n, a.config.UI.Notification.MaxPreviewLength),
		}
		if n.ID == selected {
			index = i
		}
	}
	a.feedList.SetItems(items)
	if index >= 0 {
		a.feedList.Select(index)
	}
	a.feedList.Title = fmt.Sprintf("› notifications • %s", MsgUnreadBadge(st.UnreadCount))

	if a.current != nil {
		for i := range st.Items {
			if st.Items[i].ID == a.current.ID {
				n := st.Items[i]
				a.current = &n
				break
			}
		}
	}
}

func (a *App) selectedNotification() *notification.Notification {
	if i, ok := a.feedList.SelectedItem().(notificationItem); ok {
		n := i.n
		return &n
	}
	return nil
}

// maybeLoadMore fetches the next page once the cursor reaches the last
// loaded item.
func (a *App) maybeLoadMore(before int) tea.Cmd {
	last := len(a.feedList.Items()) - 1
	idx := a.feedList.Index()
	if last < 0 || idx == before || idx != last {
		return nil
	}
	if !a.state.HasMore || a.state.Loading || a.feedList.FilterState() != list.Unfiltered {
		return nil
	}
	return a.startOp(MsgLoadingMore, a.loadMore())
}

func (a *App) View() string {
	bodyHeight := max(a.height-chromeHeight, 1)
	var content string

	switch a.view {
	case ViewFeed:
		if len(a.state.Items) == 0 && !a.state.Loading {
			content = renderCentered(a.width, bodyHeight, GetWelcomeMessage())
		} else {
			content = a.feedList.View()
		}

	case ViewDetail:
		if a.loadingDetail {
			content = renderCentered(a.width, bodyHeight, renderMuted(MsgLoadingDetail))
		} else {
			content = a.viewport.View()
		}

	case ViewDeleteConfirm:
		content = renderCentered(a.width, bodyHeight, a.deleteConfirmView())

	case ViewSearch:
		helpText := "Type to search • Tab/↓: results • Esc: back"
		if !a.searchInput.Focused() {
			if len(a.searchList.Items()) > 0 {
				helpText = "↑↓: navigate • Enter: select • Tab: search box • Esc: back"
			} else {
				helpText = "No results • Tab: search box • Esc: back"
			}
		}
		searchContent := lipgloss.JoinVertical(
			lipgloss.Top,
			renderHeader("› search", fmt.Sprintf("%d loaded notifications", len(a.state.Items)), a.width),
			"",
			renderInputFrame(a.searchInput.View(), a.searchInput.Focused(), a.searchInput.Width),
			renderMuted(helpText),
			"",
			a.searchList.View(),
		)
		content = lipgloss.NewStyle().
			Width(a.width).
			Height(bodyHeight).
			MaxHeight(bodyHeight).
			Render(searchContent)
	}

	separator := SeparatorStyle.Render(strings.Repeat("─", max(a.width, 0)))
	return lipgloss.JoinVertical(lipgloss.Top, content, separator, a.statusBar(), a.helpView())
}

func (a *App) deleteConfirmView() string {
	modalWidth := (a.width * 4) / 5
	if modalWidth < 20 {
		modalWidth = max(a.width-4, 15)
	}

	target := "this notification"
	link := "#"
	if a.toDelete != nil {
		target = a.formatter.Describe(a.toDelete)
		link = notification.Link(a.toDelete, a.config.API.WebURL)
	}
	target = truncateEnd(target, modalWidth-4)

	center := lipgloss.NewStyle().Width(modalWidth).Align(lipgloss.Center)
	rows := []string{
		ErrorMessageStyle.Render("⚠ Delete Notification"),
		"",
		center.Inherit(ModalTextStyle).Render("Delete this notification?"),
		"",
		center.Inherit(ModalHighlight).Render(target),
	}
	if link != "#" {
		rows = append(rows, center.Render(renderMuted(truncateMiddle(link, modalWidth-4))))
	}
	rows = append(rows, "", renderHelp("Enter: confirm • Esc: cancel"))
	return lipgloss.JoinVertical(lipgloss.Center, rows...)
}

func (a *App) statusBar() string {
	left := a.status
	if left == "" {
		left = MsgLoadedSummary(len(a.state.Items), a.state.UnreadCount, a.state.HasMore)
	}
	left = truncateEnd(left, max(a.width-6, 10))
	line := a.statusKind.render(left)
	if a.pending > 0 {
		line = a.spinner.View() + " " + line
	}
	return StatusBarStyle.Width(max(a.width, 0)).Render(line)
}

func (a *App) helpView() string {
	return StatusBarStyle.Render(a.help.View(viewKeys{keys: a.keyHandler.keys, view: a.view}))
}

// Run starts the full-screen program and blocks until the user quits.
func Run(ctx context.Context, ctrl *feed.Controller, cfg *config.Config, errs <-chan error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app := NewApp(ctx, ctrl, cfg).WithErrors(errs)
	p := tea.NewProgram(app, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	_, err := p.Run()
	ctrl.Stop()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

type notificationItem struct {
	n       notification.Notification
	summary string
	preview string
}

func (i notificationItem) Title() string {
	if i.n.IsRead {
		return ReadItemStyle.Render(i.summary)
	}
	return UnreadItemStyle.Render("● " + i.summary)
}

func (i notificationItem) Description() string {
	desc := i.preview
	if !i.n.CreatedAt.IsZero() {
		if desc != "" {
			desc += " "
		}
		return renderMuted(desc) + TimeStyle.Render("• "+i.n.CreatedAt.Local().Format("Jan 2, 15:04"))
	}
	return renderMuted(desc)
}

func (i notificationItem) FilterValue() string {
	return i.summary + " " + i.preview
}

type searchResultItem struct {
	result  *search.Result
	summary string
}

func (i searchResultItem) Title() string {
	if i.result.Notification.IsRead {
		return ReadItemStyle.Render(i.summary)
	}
	return UnreadItemStyle.Render("● " + i.summary)
}

func (i searchResultItem) Description() string {
	var snippets []string
	for _, m := range i.result.Matches {
		if m.Text != "" {
			snippets = append(snippets, m.Field+": "+m.Text)
		}
	}
	desc := strings.Join(snippets, " • ")
	if desc == "" {
		desc = notification.Preview(&i.result.Notification, 60)
	}
	return renderMuted(truncateEnd(desc, 80))
}

func (i searchResultItem) FilterValue() string { return i.summary }
