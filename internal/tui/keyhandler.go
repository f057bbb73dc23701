package tui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/notifeed/internal/config"
	"github.com/pders01/notifeed/internal/notification"
	"github.com/pders01/notifeed/internal/search"
)

const maxSearchQueryLength = 256

// keyMap holds the configurable action bindings.
type keyMap struct {
	Quit        key.Binding
	Search      key.Binding
	Refresh     key.Binding
	MarkRead    key.Binding
	MarkAllRead key.Binding
	Delete      key.Binding
	LoadMore    key.Binding
	Open        key.Binding
	Back        key.Binding
	Help        key.Binding
	Select      key.Binding
	Confirm     key.Binding
}

// bindKey applies the modifier to single-character keys. Named keys such
// as "esc" or "enter" are used as is.
func bindKey(modifier, k string) string {
	if modifier == "" || utf8.RuneCountInString(k) != 1 {
		return k
	}
	return modifier + "+" + k
}

func newKeyMap(cfg config.KeyConfig) keyMap {
	b := cfg.Bindings
	mk := func(k, desc string, extra ...string) key.Binding {
		k = bindKey(cfg.Modifier, k)
		keys := append([]string{k}, extra...)
		return key.NewBinding(key.WithKeys(keys...), key.WithHelp(k, desc))
	}
	return keyMap{
		Quit:        mk(b.Quit, "quit", "ctrl+c"),
		Search:      mk(b.Search, "search"),
		Refresh:     mk(b.Refresh, "refresh"),
		MarkRead:    mk(b.MarkRead, "mark read"),
		MarkAllRead: mk(b.MarkAllRead, "mark all read"),
		Delete:      mk(b.Delete, "delete"),
		LoadMore:    mk(b.LoadMore, "load more"),
		Open:        mk(b.Open, "open"),
		Back:        mk(b.Back, "back"),
		Help:        mk(b.Help, "help"),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "view"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter", "y"),
			key.WithHelp("enter/y", "confirm"),
		),
	}
}

// viewKeys adapts the key map to help.KeyMap for the active view.
type viewKeys struct {
	keys keyMap
	view View
}

func (v viewKeys) ShortHelp() []key.Binding {
	k := v.keys
	switch v.view {
	case ViewFeed:
		return []key.Binding{k.Select, k.MarkRead, k.Refresh, k.Search, k.Help, k.Quit}
	case ViewDetail:
		return []key.Binding{k.Open, k.MarkRead, k.Delete, k.Back}
	case ViewSearch:
		return []key.Binding{k.Select, k.Back}
	case ViewDeleteConfirm:
		return []key.Binding{k.Confirm, k.Back}
	default:
		return nil
	}
}

func (v viewKeys) FullHelp() [][]key.Binding {
	k := v.keys
	switch v.view {
	case ViewFeed:
		return [][]key.Binding{
			{k.Select, k.Open, k.Search},
			{k.MarkRead, k.MarkAllRead, k.Delete},
			{k.Refresh, k.LoadMore},
			{k.Help, k.Quit},
		}
	default:
		return [][]key.Binding{v.ShortHelp()}
	}
}

type KeyHandler struct {
	app  *App
	keys keyMap
}

func NewKeyHandler(app *App, cfg *config.Config) *KeyHandler {
	return &KeyHandler{app: app, keys: newKeyMap(cfg.Keys)}
}

func (kh *KeyHandler) HandleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return kh.app, tea.Quit
	}

	if kh.isInTextInputMode() {
		return kh.handleTextInputMode(msg)
	}

	// The list owns every key while the user types a filter.
	if kh.app.view == ViewFeed && kh.app.feedList.FilterState() == list.Filtering {
		return kh.delegateToCharm(msg)
	}

	if model, cmd, handled := kh.handleCustomKeys(msg); handled {
		return model, cmd
	}

	return kh.delegateToCharm(msg)
}

func (kh *KeyHandler) isInTextInputMode() bool {
	return kh.app.view == ViewSearch && kh.app.searchInput.Focused()
}

func (kh *KeyHandler) handleTextInputMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return kh.navigateBack()
	case "enter":
		if items := kh.app.searchList.Items(); len(items) > 0 {
			if i, ok := items[0].(searchResultItem); ok {
				return kh.selectSearchResult(i)
			}
		}
		return kh.app, nil
	case "tab", "down":
		if len(kh.app.searchList.Items()) > 0 {
			kh.app.searchInput.Blur()
			kh.app.searchList.Select(0)
		}
		return kh.app, nil
	default:
		return kh.delegateToTextInput(msg)
	}
}

// delegateToTextInput feeds the search box and schedules a debounced search
// when the query changed.
func (kh *KeyHandler) delegateToTextInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	prev := kh.app.pendingSearchQuery
	var cmd tea.Cmd
	kh.app.searchInput, cmd = kh.app.searchInput.Update(msg)

	query := sanitizeSearchInput(kh.app.searchInput.Value())
	if query == prev {
		return kh.app, cmd
	}
	kh.app.pendingSearchQuery = query
	kh.app.searchSeq++
	seq := kh.app.searchSeq
	wait := kh.app.searchDebounce
	return kh.app, tea.Batch(cmd, tea.Tick(wait, func(time.Time) tea.Msg {
		return searchDebounceFireMsg{seq: seq}
	}))
}

func (kh *KeyHandler) handleCustomKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	k := kh.keys

	switch {
	case key.Matches(msg, k.Back):
		model, cmd := kh.navigateBack()
		return model, cmd, true
	case key.Matches(msg, k.Quit) && kh.app.view != ViewDeleteConfirm:
		return kh.app, tea.Quit, true
	}

	switch kh.app.view {
	case ViewFeed:
		return kh.handleFeedKeys(msg)
	case ViewDetail:
		return kh.handleDetailKeys(msg)
	case ViewSearch:
		return kh.handleSearchResultKeys(msg)
	case ViewDeleteConfirm:
		return kh.handleDeleteConfirmKeys(msg)
	default:
		return kh.app, nil, false
	}
}

func (kh *KeyHandler) handleFeedKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	k := kh.keys
	a := kh.app

	switch {
	case key.Matches(msg, k.Search):
		model, cmd := kh.enterSearchMode()
		return model, cmd, true
	case key.Matches(msg, k.Refresh):
		return a, a.startOp(MsgRefreshing, a.refresh()), true
	case key.Matches(msg, k.LoadMore):
		if !a.state.HasMore {
			a.setStatus(MsgEndOfFeed, StatusInfo)
			return a, nil, true
		}
		return a, a.startOp(MsgLoadingMore, a.loadMore()), true
	case key.Matches(msg, k.MarkAllRead):
		return a, a.startOp(MsgMarkingAll, a.markAllRead()), true
	case key.Matches(msg, k.Help):
		a.help.ShowAll = !a.help.ShowAll
		return a, nil, true
	case key.Matches(msg, k.Select):
		if n := a.selectedNotification(); n != nil {
			a.cameFromSearch = false
			return a, a.openDetail(n), true
		}
		return a, nil, true
	}

	n := a.selectedNotification()
	if n == nil {
		return a, nil, false
	}
	switch {
	case key.Matches(msg, k.MarkRead):
		if n.IsRead {
			return a, nil, true
		}
		return a, a.markRead(n.ID), true
	case key.Matches(msg, k.Delete):
		kh.confirmDelete(n)
		return a, nil, true
	case key.Matches(msg, k.Open):
		return a, a.openLink(n), true
	}
	return a, nil, false
}

func (kh *KeyHandler) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	k := kh.keys
	a := kh.app
	if a.current == nil {
		return a, nil, false
	}

	switch {
	case key.Matches(msg, k.Open):
		return a, a.openLink(a.current), true
	case key.Matches(msg, k.MarkRead):
		if a.current.IsRead {
			return a, nil, true
		}
		return a, a.markRead(a.current.ID), true
	case key.Matches(msg, k.Delete):
		kh.confirmDelete(a.current)
		return a, nil, true
	case key.Matches(msg, k.Search):
		model, cmd := kh.enterSearchMode()
		return model, cmd, true
	}
	return a, nil, false
}

// handleSearchResultKeys handles keys while the result list has focus.
func (kh *KeyHandler) handleSearchResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	a := kh.app
	switch msg.String() {
	case "tab", "shift+tab", "/", "i":
		a.searchInput.Focus()
		return a, nil, true
	case "up":
		if len(a.searchList.Items()) > 0 && a.searchList.Index() == 0 {
			a.searchInput.Focus()
			return a, nil, true
		}
	case "enter":
		if i, ok := a.searchList.SelectedItem().(searchResultItem); ok {
			model, cmd := kh.selectSearchResult(i)
			return model, cmd, true
		}
		return a, nil, true
	}
	return a, nil, false
}

func (kh *KeyHandler) handleDeleteConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	a := kh.app
	if key.Matches(msg, kh.keys.Confirm) && a.toDelete != nil {
		id := a.toDelete.ID
		return a, a.startOp(MsgDeleting, a.deleteNotification(id)), true
	}
	// Swallow everything else so list keys do not leak through the modal.
	return a, nil, true
}

// delegateToCharm lets the bubbles components handle keys we don't intercept.
func (kh *KeyHandler) delegateToCharm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a := kh.app
	var cmd tea.Cmd

	switch a.view {
	case ViewFeed:
		before := a.feedList.Index()
		a.feedList, cmd = a.feedList.Update(msg)
		if more := a.maybeLoadMore(before); more != nil {
			return a, tea.Batch(cmd, more)
		}
		return a, cmd
	case ViewSearch:
		a.searchList, cmd = a.searchList.Update(msg)
		return a, cmd
	case ViewDetail:
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	default:
		return a, nil
	}
}

func (kh *KeyHandler) confirmDelete(n *notification.Notification) {
	a := kh.app
	a.toDelete = n
	a.previousView = a.view
	a.view = ViewDeleteConfirm
}

func (kh *KeyHandler) selectSearchResult(result searchResultItem) (tea.Model, tea.Cmd) {
	a := kh.app
	n := result.result.Notification
	a.cameFromSearch = true
	return a, a.openDetail(&n)
}

// navigateBack returns to the view the user came from.
func (kh *KeyHandler) navigateBack() (tea.Model, tea.Cmd) {
	a := kh.app
	switch a.view {
	case ViewDeleteConfirm:
		a.view = a.previousView
		a.toDelete = nil
		return a, nil

	case ViewSearch:
		a.view = ViewFeed
		kh.resetSearch()
		return a, nil

	case ViewDetail:
		a.loadingDetail = false
		if a.cameFromSearch {
			a.view = ViewSearch
			a.cameFromSearch = false
			a.searchInput.Blur()
			return a, nil
		}
		a.view = ViewFeed
		a.current = nil
		return a, nil

	case ViewFeed:
		if a.feedList.FilterState() != list.Unfiltered {
			a.feedList.ResetFilter()
		}
		return a, nil

	default:
		return a, nil
	}
}

func (kh *KeyHandler) resetSearch() {
	a := kh.app
	a.searchInput.Reset()
	a.searchInput.Blur()
	a.pendingSearchQuery = ""
	a.searchSeq++
	a.searchList.SetItems([]list.Item{})
}

func (kh *KeyHandler) enterSearchMode() (tea.Model, tea.Cmd) {
	a := kh.app
	a.view = ViewSearch
	a.cameFromSearch = false
	kh.resetSearch()
	a.searchInput.Focus()

	engineName := fmt.Sprintf("%T", a.searcher)
	if ds, ok := a.searcher.(search.DebugStatser); ok {
		if n, err := ds.DocCount(); err == nil {
			a.log.Debugf("search: %s, %d docs", engineName, n)
			return a, nil
		}
	}
	a.log.Debugf("search: %s", engineName)
	return a, nil
}

// sanitizeSearchInput trims, flattens whitespace and caps the query length.
func sanitizeSearchInput(input string) string {
	input = strings.Join(strings.Fields(input), " ")
	if len(input) > maxSearchQueryLength {
		input = input[:maxSearchQueryLength]
		for !utf8.ValidString(input) {
			input = input[:len(input)-1]
		}
	}
	return input
}
