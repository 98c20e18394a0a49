package viewer

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"webmonitor/internal/camera"
	"webmonitor/internal/client"
	"webmonitor/internal/dashboard"
	"webmonitor/internal/dom"
	"webmonitor/internal/preview"
	"webmonitor/internal/selection"
	"webmonitor/internal/store"
)

// Backend はビューアが使うバックエンドAPI
type Backend interface {
	Cameras(ctx context.Context) ([]camera.Camera, error)
	ApplySettings(ctx context.Context, id int, s camera.Settings) (client.SettingsResult, error)
	Streamer
}

// 表示中の画面
type screen int

const (
	screenDashboard screen = iota
	screenPreview
)

// ダッシュボードのフォーカス先
const (
	focusList = 0
	focusGrid = 1
)

// Messages
type navigateMsg string

type frameMsg struct{}

type pageUpdatedMsg struct{}

type noticeMsg string

// Options はビューアの設定
type Options struct {
	DownloadDir string
}

// Model はビューアの状態
type Model struct {
	ctx     context.Context
	backend Backend
	store   store.Store
	loader  *Loader
	logger  zerolog.Logger
	opts    Options

	// ゴルーチンからのメッセージ（遷移、フレーム到着）
	events chan tea.Msg

	dash   *dashboard.Page
	prev   *preview.Page
	screen screen

	focus  int
	cursor int
	notice string

	// Terminal dimensions
	width  int
	height int
}

// NewModel はダッシュボードを表示するモデルを作成する
func NewModel(ctx context.Context, backend Backend, st store.Store, logger zerolog.Logger, opts Options) *Model {
	if opts.DownloadDir == "" {
		opts.DownloadDir = "."
	}
	m := &Model{
		ctx:     ctx,
		backend: backend,
		store:   st,
		logger:  logger,
		opts:    opts,
		events:  make(chan tea.Msg, 16),
		focus:   focusGrid,
		width:   100,
		height:  40,
	}
	m.loader = NewLoader(ctx, backend, logger, m.frameArrived)

	doc := dom.NewDocument()
	m.loader.Attach(doc)
	m.dash = dashboard.New(ctx, doc, backend, st, logger,
		dashboard.WithNavigator(m.navigate),
	)
	return m
}

// frameArrived は再描画を要求する。既に要求済みなら捨てる
func (m *Model) frameArrived() {
	select {
	case m.events <- frameMsg{}:
	default:
	}
}

// navigate はページ遷移を要求する。タイマーやクリック処理のゴルーチンから呼ばれる
func (m *Model) navigate(path string) {
	select {
	case m.events <- navigateMsg(path):
	case <-m.ctx.Done():
	}
}

// waitForEvent はゴルーチンからのメッセージを1つ待つ
func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

// run はページの操作をゴルーチンで実行し、終わったら再描画させる
func run(f func()) tea.Cmd {
	return func() tea.Msg {
		f()
		return pageUpdatedMsg{}
	}
}

// click は要素のクリックを送る
func click(doc *dom.Document, el *dom.Element) tea.Cmd {
	if el == nil {
		return nil
	}
	return run(func() { doc.Click(el) })
}

// Init は初回描画を行う
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		run(func() { m.dash.Render(m.ctx) }),
		m.waitForEvent(),
		tea.SetWindowTitle("Webmonitor"),
	)
}

// Update はメッセージを処理する
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.screen == screenPreview {
			return m, m.handlePreviewKey(msg)
		}
		return m, m.handleDashboardKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.FocusMsg:
		m.currentDoc().SetHidden(false)
		return m, nil

	case tea.BlurMsg:
		m.currentDoc().SetHidden(true)
		return m, nil

	case navigateMsg:
		return m, tea.Batch(m.open(string(msg)), m.waitForEvent())

	case frameMsg:
		return m, m.waitForEvent()

	case noticeMsg:
		m.notice = string(msg)
		return m, nil

	case pageUpdatedMsg:
		m.clampCursor()
		return m, nil
	}

	return m, nil
}

func (m *Model) currentDoc() *dom.Document {
	if m.screen == screenPreview && m.prev != nil {
		return m.prev.Doc
	}
	return m.dash.Doc
}

// open はパスに応じて画面を切り替える
func (m *Model) open(path string) tea.Cmd {
	if id, ok := strings.CutPrefix(path, "/preview/"); ok {
		cameraID, err := strconv.Atoi(id)
		if err != nil {
			return nil
		}
		return m.openPreview(cameraID)
	}

	// 一覧に戻る。キャッシュしたページの復元として再描画させる
	if m.prev != nil {
		m.loader.Stop(m.prev.Doc)
		m.prev = nil
	}
	m.screen = screenDashboard
	m.notice = ""
	return run(func() { m.dash.Doc.Show(true) })
}

func (m *Model) openPreview(cameraID int) tea.Cmd {
	m.loader.Stop(m.dash.Doc)

	name := m.dash.CameraName(cameraID)
	doc := dom.NewDocument()
	m.loader.Attach(doc)

	m.prev = preview.NewPage(m.ctx, doc, cameraID, name, m.backend, m.logger,
		preview.WithNavigator(m.navigate),
		preview.WithDownloadDir(m.opts.DownloadDir),
	)
	m.screen = screenPreview
	m.notice = ""

	page := m.prev
	return run(func() { _ = page.Controller.Load(m.ctx) })
}

// dashboardTargets はフォーカス中の表示のカメラ要素
func (m *Model) dashboardTargets() []*dom.Element {
	container := m.dash.Grid
	if m.focus == focusList {
		container = m.dash.List
	}
	return selection.ContainerView{Container: container}.CameraElements()
}

func (m *Model) clampCursor() {
	n := len(m.dashboardTargets())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) handleDashboardKey(msg tea.KeyMsg) tea.Cmd {
	doc := m.dash.Doc
	switch msg.String() {
	case "q", "ctrl+c":
		m.loader.Close()
		return tea.Quit

	case "tab", "shift+tab":
		m.focus = (m.focus + 1) % 2
		m.clampCursor()

	case "up", "k", "left", "h":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j", "right", "l":
		if m.cursor < len(m.dashboardTargets())-1 {
			m.cursor++
		}

	case "enter", " ":
		targets := m.dashboardTargets()
		if m.cursor < len(targets) {
			return click(doc, targets[m.cursor])
		}

	case "esc":
		// カメラ以外の場所のクリック
		return click(doc, doc.Body())

	case "r":
		return click(doc, m.dash.Refresh)

	case "s":
		return click(doc, m.dash.Toggle)
	}
	return nil
}

func (m *Model) handlePreviewKey(msg tea.KeyMsg) tea.Cmd {
	p := m.prev
	doc := p.Doc
	switch msg.String() {
	case "q", "ctrl+c":
		m.loader.Close()
		return tea.Quit

	case " ", "p":
		return click(doc, p.Elements.PauseButton)

	case "left", "h":
		cycle(p.Elements.ResolutionSelect, -1)
	case "right", "l":
		cycle(p.Elements.ResolutionSelect, 1)
	case "up", "k":
		cycle(p.Elements.FPSSelect, 1)
	case "down", "j":
		cycle(p.Elements.FPSSelect, -1)

	case "enter", "a":
		return click(doc, p.Apply)

	case "d":
		return func() tea.Msg {
			doc.Click(p.Download)
			if saved := p.LastSaved(); saved != "" {
				return noticeMsg("保存しました: " + saved)
			}
			return noticeMsg("保存できませんでした")
		}

	case "esc", "b", "backspace":
		return click(doc, p.Back)
	}
	return nil
}

// cycle は select 要素の選択を delta だけ動かす
func cycle(sel *dom.Element, delta int) {
	opts := sel.Children()
	if len(opts) == 0 {
		return
	}
	idx := 0
	current := sel.Value()
	for i, o := range opts {
		if o.Value() == current {
			idx = i
			break
		}
	}
	idx = (idx + delta + len(opts)) % len(opts)
	sel.SelectValue(opts[idx].Value())
}

// selectedLabel は select 要素の選択中の表示文言
func selectedLabel(sel *dom.Element) string {
	v := sel.Value()
	for _, o := range sel.Children() {
		if o.Value() == v {
			return o.Text()
		}
	}
	return preview.AutoLabel
}

// View は画面を描画する
func (m *Model) View() string {
	if m.screen == screenPreview && m.prev != nil {
		return m.viewPreview()
	}
	return m.viewDashboard()
}

func (m *Model) viewDashboard() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Webmonitor"))
	if m.dash.Refresh.Disabled() {
		b.WriteString(dimStyle.Render("  更新中..."))
	}
	b.WriteString("\n\n")

	cardWidth := 28
	columns := max(1, (m.width-30)/(cardWidth+4))

	var cards []string
	var rows []string
	for i, card := range m.dash.Grid.Children() {
		cards = append(cards, m.renderCard(card, cardWidth, m.focus == focusGrid && i == m.cursor))
		if len(cards) == columns {
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
			cards = nil
		}
	}
	if len(cards) > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	}
	grid := lipgloss.JoinVertical(lipgloss.Left, rows...)

	if m.dash.Sidebar.HasClass(dashboard.ClassCollapsed) {
		b.WriteString(grid)
	} else {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, sidebarStyle.Render(m.renderList()), grid))
	}

	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("↑↓ 移動 • tab 一覧/カード • enter 選択 • esc 選択解除 • r 更新 • s サイドバー • q 終了"))
	return b.String()
}

func (m *Model) renderList() string {
	var lines []string
	lines = append(lines, titleStyle.Render("カメラ"))
	for i, item := range m.dash.List.Children() {
		text := truncate(item.Text(), 22)
		if !item.HasClass(dashboard.ClassListItem) {
			lines = append(lines, dimStyle.Render(text))
			continue
		}

		cursor := "  "
		if m.focus == focusList && i == m.cursor {
			cursor = "> "
		}
		if item.HasClass(selection.SelectedClass) {
			lines = append(lines, cursor+selectedStyle.Render("● "+text))
		} else {
			lines = append(lines, cursor+normalStyle.Render("  "+text))
		}
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderCard(card *dom.Element, width int, focused bool) string {
	if !card.HasClass(dashboard.ClassCard) {
		return dimStyle.Render(card.Text())
	}

	var name, info string
	var thumb *dom.Element
	for _, c := range card.Children() {
		switch {
		case c.Tag() == "img":
			thumb = c
		case c.HasClass("camera-card__name"):
			name = c.Text()
		case c.HasClass("camera-card__info"):
			info = c.Text()
		}
	}

	title := normalStyle.Render(truncate(name, width))
	if focused {
		title = titleStyle.Render("> " + truncate(name, width-2))
	}
	var frame image.Image
	if thumb != nil {
		frame = thumb.Image()
	}
	body := lipgloss.JoinVertical(lipgloss.Left, title, RenderImage(frame, width, width/4), dimStyle.Render(info))

	if card.HasClass(selection.SelectedClass) {
		return selectedCardStyle.Width(width + 2).Render(body)
	}
	return cardStyle.Width(width + 2).Render(body)
}

func (m *Model) viewPreview() string {
	p := m.prev
	var b strings.Builder

	b.WriteString(titleStyle.Render(p.Title.Text()))
	b.WriteString("\n\n")

	cols := max(16, min(m.width-2, 96))
	rows := max(6, min(m.height-10, cols*3/8))
	b.WriteString(RenderImage(p.Elements.Feed.Image(), cols, rows))
	b.WriteString("\n\n")

	status := p.Elements.Status.Text()
	if p.Controller.State().Mode == preview.Frozen {
		b.WriteString(pausedStyle.Render(status))
	} else {
		b.WriteString(statusStyle.Render(status))
	}
	fmt.Fprintf(&b, "  [space] %s  解像度: %s  フレームレート: %s\n",
		p.Elements.PauseButton.Text(),
		selectedLabel(p.Elements.ResolutionSelect),
		selectedLabel(p.Elements.FPSSelect),
	)
	if m.notice != "" {
		b.WriteString(dimStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("space 一時停止/再開 • ←→ 解像度 • ↑↓ フレームレート • enter 適用 • d 保存 • esc 戻る • q 終了"))
	return b.String()
}

// Run はビューアを起動し、終了するまで待つ
func Run(ctx context.Context, backend Backend, st store.Store, logger zerolog.Logger, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewModel(ctx, backend, st, logger, opts)
	defer m.loader.Close()

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("ビューアの実行に失敗: %w", err)
	}
	return nil
}
