package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webmonitor/internal/camera"
	"webmonitor/internal/dom"
	"webmonitor/internal/selection"
	"webmonitor/internal/store"
)

type fakeLister struct {
	mu      sync.Mutex
	cameras []camera.Camera
	err     error
	calls   int
	during  func() // 取得中に呼ばれる
}

func (f *fakeLister) Cameras(context.Context) ([]camera.Camera, error) {
	f.mu.Lock()
	f.calls++
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
	return f.cameras, f.err
}

// manualScheduler は遅延実行を記録し、テストから実行する
type manualScheduler struct {
	delays []time.Duration
	funcs  []func()
}

func (m *manualScheduler) schedule(d time.Duration, f func()) {
	m.delays = append(m.delays, d)
	m.funcs = append(m.funcs, f)
}

func (m *manualScheduler) runAll() {
	for _, f := range m.funcs {
		f()
	}
	m.funcs = nil
}

type fixture struct {
	page      *Page
	lister    *fakeLister
	store     *store.MemoryStore
	scheduler *manualScheduler
	navigated []string
}

func twoCameras() []camera.Camera {
	return []camera.Camera{{ID: 1, Name: "Door"}, {ID: 2, Name: "Yard"}}
}

func newFixture(t *testing.T, cams []camera.Camera) *fixture {
	t.Helper()
	f := &fixture{
		lister:    &fakeLister{cameras: cams},
		store:     store.NewMemoryStore(),
		scheduler: &manualScheduler{},
	}
	f.page = f.open()
	return f
}

// open は同じストアで新しいドキュメントのページを開いて描画する
func (f *fixture) open() *Page {
	p := New(context.Background(), dom.NewDocument(), f.lister, f.store, zerolog.Nop(),
		WithScheduler(f.scheduler.schedule),
		WithNavigator(func(path string) { f.navigated = append(f.navigated, path) }),
	)
	p.Render(context.Background())
	return p
}

func (f *fixture) item(id string) *dom.Element { return find(f.page.List, id) }
func (f *fixture) card(id string) *dom.Element { return find(f.page.Grid, id) }

func find(container *dom.Element, id string) *dom.Element {
	for _, el := range container.Children() {
		if v, _ := el.Data(selection.CameraIDKey); v == id {
			return el
		}
	}
	return nil
}

// flagged は選択フラグが付いた要素数
func (f *fixture) flagged() int {
	n := 0
	for _, c := range append(f.page.List.Children(), f.page.Grid.Children()...) {
		if c.HasClass(selection.SelectedClass) {
			n++
		}
	}
	return n
}

func (f *fixture) stored(t *testing.T) (string, bool) {
	t.Helper()
	v, ok, err := f.store.Get(context.Background(), store.KeySelectedCamera)
	require.NoError(t, err)
	return v, ok
}

func TestRender(t *testing.T) {
	f := newFixture(t, twoCameras())

	require.Len(t, f.page.List.Children(), 2)
	require.Len(t, f.page.Grid.Children(), 2)
	assert.Equal(t, "Door", f.item("1").Text())
	assert.True(t, f.card("2").HasClass(ClassCard))

	img := f.card("1").QueryFirst(dom.ByTag("img"))
	require.NotNil(t, img)
	assert.Contains(t, img.Src(), "/video_feed/1?v=")
	assert.False(t, f.page.Refresh.Disabled(), "描画後は更新ボタンが有効")
}

func TestRenderEmpty(t *testing.T) {
	tests := []struct {
		name   string
		lister *fakeLister
	}{
		{"カメラなし", &fakeLister{}},
		{"取得失敗", &fakeLister{err: errors.New("接続できません")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(context.Background(), dom.NewDocument(), tt.lister, store.NewMemoryStore(), zerolog.Nop())
			p.Render(context.Background())

			items := p.List.Children()
			require.Len(t, items, 1)
			assert.Equal(t, EmptyListText, items[0].Text())
			cards := p.Grid.Children()
			require.Len(t, cards, 1)
			assert.Equal(t, EmptyGridText, cards[0].Text())
		})
	}
}

func TestRefreshDisabledWhileRendering(t *testing.T) {
	f := newFixture(t, twoCameras())

	var disabled bool
	f.lister.during = func() { disabled = f.page.Refresh.Disabled() }
	f.page.Doc.Click(f.page.Refresh)

	assert.True(t, disabled)
	assert.False(t, f.page.Refresh.Disabled())
	assert.Equal(t, 2, f.lister.calls)
}

func TestSelectFromList(t *testing.T) {
	f := newFixture(t, twoCameras())

	f.page.Doc.Click(f.item("1"))

	assert.True(t, f.item("1").HasClass(selection.SelectedClass))
	assert.True(t, f.card("1").HasClass(selection.SelectedClass))
	assert.Equal(t, 2, f.flagged())
	v, ok := f.stored(t)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Empty(t, f.scheduler.funcs, "一覧のクリックでは遷移しない")
}

func TestCardClickNavigatesAfterDelay(t *testing.T) {
	f := newFixture(t, twoCameras())

	f.page.Doc.Click(f.card("2"))

	assert.True(t, f.item("2").HasClass(selection.SelectedClass), "遷移前に選択が表示される")
	assert.Empty(t, f.navigated)
	require.Equal(t, []time.Duration{NavigationDelay}, f.scheduler.delays)

	f.scheduler.runAll()
	assert.Equal(t, []string{"/preview/2"}, f.navigated)
}

func TestCardClickOnSelectedDeselects(t *testing.T) {
	f := newFixture(t, twoCameras())

	f.page.Doc.Click(f.item("1"))
	f.page.Doc.Click(f.card("1"))

	assert.Equal(t, 0, f.flagged())
	_, ok := f.stored(t)
	assert.False(t, ok)
	assert.Empty(t, f.scheduler.funcs, "選択中のカードのクリックは遷移しない")
	assert.Empty(t, f.navigated)
}

func TestClickInsideCardChild(t *testing.T) {
	f := newFixture(t, twoCameras())

	name := f.card("1").QueryFirst(dom.ByClass("camera-card__name"))
	f.page.Doc.Click(name)

	assert.True(t, f.card("1").HasClass(selection.SelectedClass), "子要素のクリックもカードの選択になる")
	assert.Len(t, f.scheduler.funcs, 1)
}

func TestOutsideClickClears(t *testing.T) {
	f := newFixture(t, twoCameras())
	f.page.Doc.Click(f.item("2"))

	f.page.Doc.Click(f.page.Grid)

	assert.Equal(t, 0, f.flagged())
	_, ok := f.stored(t)
	assert.False(t, ok)
}

func TestSelectionSurvivesReload(t *testing.T) {
	f := newFixture(t, twoCameras())
	f.page.Doc.Click(f.item("2"))

	f.page = f.open()

	assert.True(t, f.item("2").HasClass(selection.SelectedClass))
	assert.True(t, f.card("2").HasClass(selection.SelectedClass))
	assert.Equal(t, 2, f.flagged())
}

func TestRerenderTriggers(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(doc *dom.Document)
		renders bool
	}{
		{"再表示", func(doc *dom.Document) { doc.SetHidden(true); doc.SetHidden(false) }, true},
		{"非表示", func(doc *dom.Document) { doc.SetHidden(true) }, false},
		{"キャッシュからの復元", func(doc *dom.Document) { doc.Show(true) }, true},
		{"通常の表示", func(doc *dom.Document) { doc.Show(false) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, twoCameras())
			f.page.Doc.Click(f.item("1"))
			oldCard := f.card("1")

			// 表示中に別のタブで選択が変わった
			require.NoError(t, f.store.Set(context.Background(), store.KeySelectedCamera, "2"))
			f.lister.cameras = append(twoCameras(), camera.Camera{ID: 3, Name: "Garage"})

			tt.trigger(f.page.Doc)

			if !tt.renders {
				assert.Same(t, oldCard, f.card("1"))
				return
			}
			assert.NotSame(t, oldCard, f.card("1"), "要素は作り直される")
			assert.Len(t, f.page.Grid.Children(), 3)
			assert.True(t, f.card("2").HasClass(selection.SelectedClass), "選択はストアから当て直す")
			assert.False(t, f.card("1").HasClass(selection.SelectedClass))
			assert.Equal(t, 2, f.flagged())
		})
	}
}

func TestSidebarToggle(t *testing.T) {
	f := newFixture(t, twoCameras())
	assert.False(t, f.page.Sidebar.HasClass(ClassCollapsed))
	assert.Equal(t, TitleCollapse, f.page.Toggle.Attr("title"))

	f.page.Doc.Click(f.page.Toggle)
	assert.True(t, f.page.Sidebar.HasClass(ClassCollapsed))
	assert.Equal(t, TitleExpand, f.page.Toggle.Attr("title"))
	v, _, _ := f.store.Get(context.Background(), store.KeySidebarCollapsed)
	assert.Equal(t, "true", v)

	// 再読み込み後も折りたたまれたまま
	f.page = f.open()
	assert.True(t, f.page.Sidebar.HasClass(ClassCollapsed))

	f.page.Doc.Click(f.page.Toggle)
	v, _, _ = f.store.Get(context.Background(), store.KeySidebarCollapsed)
	assert.Equal(t, "false", v)
}

func TestDescribe(t *testing.T) {
	res := camera.Resolution{Width: 1280, Height: 720}
	fps := 30
	assert.Equal(t, "1280x720 @ 30 FPS", describe(camera.Camera{CurrentResolution: &res, CurrentFPS: &fps}))
	assert.Equal(t, "1280x720", describe(camera.Camera{CurrentResolution: &res}))
	assert.Equal(t, "不明", describe(camera.Camera{}))
}
