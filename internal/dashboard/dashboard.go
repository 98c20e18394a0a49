// Package dashboard はカメラ一覧とカードのグリッドを表示するトップページ
package dashboard

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"webmonitor/internal/camera"
	"webmonitor/internal/dom"
	"webmonitor/internal/preview"
	"webmonitor/internal/selection"
	"webmonitor/internal/store"
)

// NavigationDelay はカード選択から詳細ページへ遷移するまでの待ち時間
// 選択の強調表示が見えてから遷移させる
const NavigationDelay = 300 * time.Millisecond

// クラス名
const (
	ClassListItem  = "camera-list-item"
	ClassCard      = "camera-card"
	ClassEmpty     = "camera-empty"
	ClassCollapsed = "sidebar--collapsed"
)

// 表示文言
const (
	EmptyListText = "カメラが検出されません"
	EmptyGridText = "利用可能なカメラがありません"
	TitleCollapse = "サイドバーを閉じる"
	TitleExpand   = "サイドバーを開く"
)

// Lister はカメラ一覧の取得元
type Lister interface {
	Cameras(ctx context.Context) ([]camera.Camera, error)
}

// Scheduler は遅延実行の方法
type Scheduler func(d time.Duration, f func())

// Option はページの設定
type Option func(*Page)

// WithScheduler は遅延実行の方法を差し替える
func WithScheduler(s Scheduler) Option {
	return func(p *Page) { p.after = s }
}

// WithNavigator はページ遷移の方法を差し替える
func WithNavigator(navigate func(path string)) Option {
	return func(p *Page) { p.navigate = navigate }
}

// WithClock はキャッシュ回避トークンの時刻を差し替える
func WithClock(now func() time.Time) Option {
	return func(p *Page) { p.now = now }
}

// Page はダッシュボードページ
type Page struct {
	Doc       *dom.Document
	Sidebar   *dom.Element
	Toggle    *dom.Element
	List      *dom.Element
	Grid      *dom.Element
	Refresh   *dom.Element
	Selection *selection.Synchronizer

	ctx      context.Context
	lister   Lister
	store    store.Store
	logger   zerolog.Logger
	after    Scheduler
	navigate func(path string)
	now      func() time.Time

	renderMu sync.Mutex
}

// New はダッシュボードの要素を作り、イベントを結び付ける
// ctx はイベントから発生するAPI呼び出しとストア操作に使う
func New(ctx context.Context, doc *dom.Document, lister Lister, st store.Store, logger zerolog.Logger, opts ...Option) *Page {
	p := &Page{
		Doc:    doc,
		ctx:    ctx,
		lister: lister,
		store:  st,
		logger: logger.With().Str("component", "dashboard").Logger(),
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		navigate: doc.SetLocation,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	body := doc.Body()
	p.Sidebar = body.AppendChild(doc.CreateElement("aside"))
	p.Sidebar.SetAttr("id", "sidebar")
	p.Toggle = p.Sidebar.AppendChild(doc.CreateElement("button"))
	p.Toggle.SetAttr("id", "sidebarToggle")
	p.List = p.Sidebar.AppendChild(doc.CreateElement("ul"))
	p.List.SetAttr("id", "cameraList")

	content := body.AppendChild(doc.CreateElement("main"))
	p.Refresh = content.AppendChild(doc.CreateElement("button"))
	p.Refresh.SetAttr("id", "refreshBtn")
	p.Refresh.SetText("更新")
	p.Grid = content.AppendChild(doc.CreateElement("div"))
	p.Grid.SetAttr("id", "cameraGrid")

	p.Selection = selection.New(st, logger,
		selection.ContainerView{Container: p.List},
		selection.ContainerView{Container: p.Grid},
	)

	p.Refresh.AddEventListener(dom.EventClick, func(*dom.Event) {
		p.Render(p.ctx)
	})
	p.Toggle.AddEventListener(dom.EventClick, func(*dom.Event) {
		p.ToggleSidebar(p.ctx)
	})

	// カメラ要素以外のクリックで選択を解除する
	doc.AddEventListener(dom.EventClick, func(e *dom.Event) {
		if e.Target != nil && e.Target.Closest(isCameraElement) != nil {
			return
		}
		p.Selection.Clear(p.ctx)
	})
	doc.AddEventListener(dom.EventVisibilityChange, func(*dom.Event) {
		if !doc.Hidden() {
			p.Render(p.ctx)
		}
	})
	doc.AddEventListener(dom.EventPageShow, func(e *dom.Event) {
		if e.Persisted {
			p.Render(p.ctx)
		}
	})

	p.restoreSidebar(ctx)
	return p
}

func isCameraElement(el *dom.Element) bool {
	return el.HasClass(ClassListItem) || el.HasClass(ClassCard)
}

// Render はカメラ一覧を取得し、一覧とカードを作り直してから選択を復元する
// 取得に失敗した場合は「カメラなし」の表示にする
func (p *Page) Render(ctx context.Context) {
	p.renderMu.Lock()
	defer p.renderMu.Unlock()

	p.Refresh.SetDisabled(true)
	defer p.Refresh.SetDisabled(false)

	cams, err := p.lister.Cameras(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("カメラ一覧を取得できませんでした")
		cams = nil
	}

	if len(cams) == 0 {
		p.List.ReplaceChildren(p.placeholder("li", EmptyListText))
		p.Grid.ReplaceChildren(p.placeholder("div", EmptyGridText))
	} else {
		items := make([]*dom.Element, 0, len(cams))
		cards := make([]*dom.Element, 0, len(cams))
		for _, cam := range cams {
			items = append(items, p.listItem(cam))
			cards = append(cards, p.card(cam))
		}
		p.List.ReplaceChildren(items...)
		p.Grid.ReplaceChildren(cards...)
	}

	// 要素は作り直されているので、保存された選択から当て直す
	p.Selection.Restore(ctx)
	p.logger.Debug().Int("cameras", len(cams)).Msg("カメラ一覧を描画しました")
}

func (p *Page) placeholder(tag, text string) *dom.Element {
	el := p.Doc.CreateElement(tag)
	el.AddClass(ClassEmpty)
	el.SetText(text)
	return el
}

func (p *Page) listItem(cam camera.Camera) *dom.Element {
	id := strconv.Itoa(cam.ID)

	item := p.Doc.CreateElement("li")
	item.AddClass(ClassListItem)
	item.SetData(selection.CameraIDKey, id)
	item.SetText(cam.Name)

	item.AddEventListener(dom.EventClick, func(e *dom.Event) {
		e.StopPropagation()
		p.Selection.Select(p.ctx, id)
	})
	return item
}

func (p *Page) card(cam camera.Camera) *dom.Element {
	id := strconv.Itoa(cam.ID)

	card := p.Doc.CreateElement("div")
	card.AddClass(ClassCard)
	card.SetData(selection.CameraIDKey, id)

	img := card.AppendChild(p.Doc.CreateElement("img"))
	img.AddClass("camera-card__image")
	img.SetSrc(preview.FeedURL(cam.ID, nil, strconv.FormatInt(p.now().UnixMilli(), 10)))

	name := card.AppendChild(p.Doc.CreateElement("div"))
	name.AddClass("camera-card__name")
	name.SetText(cam.Name)

	info := card.AppendChild(p.Doc.CreateElement("div"))
	info.AddClass("camera-card__info")
	info.SetText(describe(cam))

	card.AddEventListener(dom.EventClick, func(e *dom.Event) {
		e.StopPropagation()

		wasSelected := card.HasClass(selection.SelectedClass)
		p.Selection.Select(p.ctx, id)
		if wasSelected {
			return
		}
		path := "/preview/" + id
		p.after(NavigationDelay, func() { p.navigate(path) })
	})
	return card
}

// describe はカードに表示する現在設定の説明
func describe(cam camera.Camera) string {
	res := "不明"
	if cam.CurrentResolution != nil {
		res = cam.CurrentResolution.String()
	}
	if cam.CurrentFPS == nil {
		return res
	}
	return fmt.Sprintf("%s @ %d FPS", res, *cam.CurrentFPS)
}

// ToggleSidebar はサイドバーの折りたたみを切り替えて保存する
func (p *Page) ToggleSidebar(ctx context.Context) {
	collapsed := !p.Sidebar.HasClass(ClassCollapsed)
	p.applySidebar(collapsed)

	if err := p.store.Set(ctx, store.KeySidebarCollapsed, strconv.FormatBool(collapsed)); err != nil {
		p.logger.Warn().Err(err).Msg("サイドバーの状態を保存できませんでした")
	}
}

func (p *Page) restoreSidebar(ctx context.Context) {
	v, ok, err := p.store.Get(ctx, store.KeySidebarCollapsed)
	if err != nil {
		p.logger.Warn().Err(err).Msg("サイドバーの状態を読み込めませんでした")
	}
	p.applySidebar(ok && v == "true")
}

func (p *Page) applySidebar(collapsed bool) {
	p.Sidebar.ToggleClass(ClassCollapsed, collapsed)
	if collapsed {
		p.Toggle.SetAttr("title", TitleExpand)
		return
	}
	p.Toggle.SetAttr("title", TitleCollapse)
}

// CameraName は描画済みの一覧からカメラ名を返す。見つからなければ番号から作る
func (p *Page) CameraName(id int) string {
	want := strconv.Itoa(id)
	for _, item := range p.List.Children() {
		if v, _ := item.Data(selection.CameraIDKey); v == want {
			return item.Text()
		}
	}
	return camera.FallbackName(id)
}
