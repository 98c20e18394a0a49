// Package dom はページを表すメモリ上の要素ツリーを提供する
//
// ブラウザのドキュメントと同様に、要素はタグ、クラス、data属性、src、テキストを持つ。
// クリックイベントは対象要素から親へ順に伝播し、最後にドキュメントのリスナーへ届く。
// リスナーは要素ツリーのロックを保持しない状態で呼ばれるので、ハンドラ内で要素を操作できる。
package dom

import (
	"image"
	"sort"
	"strings"
	"sync"
)

// イベント種別
const (
	EventClick            = "click"
	EventVisibilityChange = "visibilitychange"
	EventPageShow         = "pageshow"
)

// Event はディスパッチされるイベント
type Event struct {
	Type   string
	Target *Element // ドキュメント自体へのイベントでは nil

	// Persisted はナビゲーションキャッシュから復元されたページの pageshow で true
	Persisted bool

	stopped bool
}

// StopPropagation は親要素とドキュメントへの伝播を止める
func (e *Event) StopPropagation() { e.stopped = true }

// Stopped は伝播が止められたかを返す
func (e *Event) Stopped() bool { return e.stopped }

// Handler はイベントリスナー
type Handler func(e *Event)

// SrcObserver は要素の src が変わったときに呼ばれる
type SrcObserver func(el *Element, src string)

// Document は要素ツリーのルート
type Document struct {
	mu        sync.Mutex
	body      *Element
	listeners map[string][]Handler
	observers []SrcObserver
	hidden    bool
	location  string
}

// NewDocument は空のドキュメントを作成する
func NewDocument() *Document {
	d := &Document{listeners: make(map[string][]Handler)}
	d.body = d.CreateElement("body")
	return d
}

// Body はルート要素を返す
func (d *Document) Body() *Element { return d.body }

// CreateElement はドキュメントに属する新しい要素を作る。ツリーにはまだ追加されない
func (d *Document) CreateElement(tag string) *Element {
	return &Element{
		doc:       d,
		tag:       tag,
		classes:   make(map[string]bool),
		dataset:   make(map[string]string),
		attrs:     make(map[string]string),
		listeners: make(map[string][]Handler),
	}
}

// AddEventListener はドキュメントレベルのリスナーを登録する
func (d *Document) AddEventListener(eventType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], h)
}

// ObserveSrc は src の変更を監視する
func (d *Document) ObserveSrc(o SrcObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Hidden はページが非表示かを返す
func (d *Document) Hidden() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hidden
}

// SetHidden は表示状態を変更し、変化があれば visibilitychange を発火する
func (d *Document) SetHidden(hidden bool) {
	d.mu.Lock()
	changed := d.hidden != hidden
	d.hidden = hidden
	d.mu.Unlock()

	if changed {
		d.Dispatch(&Event{Type: EventVisibilityChange})
	}
}

// Show は pageshow を発火する
func (d *Document) Show(persisted bool) {
	d.Dispatch(&Event{Type: EventPageShow, Persisted: persisted})
}

// Location は最後に遷移を要求されたパスを返す
func (d *Document) Location() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.location
}

// SetLocation は遷移先を記録する
func (d *Document) SetLocation(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.location = path
}

// Click は要素のクリックをシミュレートする
func (d *Document) Click(el *Element) {
	if el == nil {
		return
	}
	d.Dispatch(&Event{Type: EventClick, Target: el})
}

// Dispatch はイベントを対象要素から祖先へ、最後にドキュメントへ伝播させる
// StopPropagation は同じ要素の残りのリスナーには影響しない
func (d *Document) Dispatch(e *Event) {
	for _, hs := range d.path(e) {
		for _, h := range hs {
			h(e)
		}
		if e.stopped {
			return
		}
	}
}

// path はロック下で、伝播順に各ノードのリスナーを確定する
func (d *Document) path(e *Event) [][]Handler {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out [][]Handler
	for el := e.Target; el != nil; el = el.parent {
		out = append(out, append([]Handler(nil), el.listeners[e.Type]...))
	}
	return append(out, append([]Handler(nil), d.listeners[e.Type]...))
}

// GetElementByID はid属性で要素を探す
func (d *Document) GetElementByID(id string) *Element {
	return d.body.QueryFirst(func(el *Element) bool { return el.Attr("id") == id })
}

// Element はドキュメント内の要素
type Element struct {
	doc      *Document
	tag      string
	parent   *Element
	children []*Element

	classes   map[string]bool
	dataset   map[string]string
	attrs     map[string]string
	text      string
	src       string
	value     string
	selected  bool
	disabled  bool
	img       image.Image
	listeners map[string][]Handler
}

// Tag はタグ名を返す
func (el *Element) Tag() string { return el.tag }

// Document は要素が属するドキュメントを返す
func (el *Element) Document() *Document { return el.doc }

// AddEventListener は要素にリスナーを登録する
func (el *Element) AddEventListener(eventType string, h Handler) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	el.listeners[eventType] = append(el.listeners[eventType], h)
}

// AppendChild は子要素を末尾に追加する。既に別の親を持つ場合は移動する
func (el *Element) AppendChild(child *Element) *Element {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	el.appendLocked(child)
	return child
}

func (el *Element) appendLocked(child *Element) {
	if child.parent != nil {
		child.parent.removeLocked(child)
	}
	child.parent = el
	el.children = append(el.children, child)
}

func (el *Element) removeLocked(child *Element) {
	for i, c := range el.children {
		if c == child {
			el.children = append(el.children[:i], el.children[i+1:]...)
			break
		}
	}
	child.parent = nil
}

// ReplaceChildren はすべての子要素を置き換える
func (el *Element) ReplaceChildren(children ...*Element) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	for _, c := range el.children {
		c.parent = nil
	}
	el.children = nil
	for _, c := range children {
		el.appendLocked(c)
	}
}

// Children は子要素のコピーを返す
func (el *Element) Children() []*Element {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	return append([]*Element(nil), el.children...)
}

// Parent は親要素を返す
func (el *Element) Parent() *Element {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	return el.parent
}

// Connected は要素がドキュメントのツリーに含まれているかを返す
func (el *Element) Connected() bool {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	for cur := el; cur != nil; cur = cur.parent {
		if cur == el.doc.body {
			return true
		}
	}
	return false
}

// AddClass はクラスを付与する
func (el *Element) AddClass(names ...string) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	for _, n := range names {
		el.classes[n] = true
	}
}

// RemoveClass はクラスを外す
func (el *Element) RemoveClass(names ...string) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	for _, n := range names {
		delete(el.classes, n)
	}
}

// ToggleClass は on に応じてクラスを付け外しする
func (el *Element) ToggleClass(name string, on bool) {
	if on {
		el.AddClass(name)
		return
	}
	el.RemoveClass(name)
}

// HasClass はクラスを持つかを返す
func (el *Element) HasClass(name string) bool {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	return el.classes[name]
}

// ClassName はクラスを名前順に空白区切りで返す
func (el *Element) ClassName() string {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	names := make([]string, 0, len(el.classes))
	for n := range el.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

// SetData は data 属性を設定する
func (el *Element) SetData(key, value string) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	el.dataset[key] = value
}

// Data は data 属性を返す
func (el *Element) Data(key string) (string, bool) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	v, ok := el.dataset[key]
	return v, ok
}

// SetAttr は任意の属性を設定する
func (el *Element) SetAttr(key, value string) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	el.attrs[key] = value
}

// Attr は属性を返す
func (el *Element) Attr(key string) string {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	return el.attrs[key]
}

// SetText はテキストを設定する
func (el *Element) SetText(text string) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	el.text = text
}

// Text はテキストを返す
func (el *Element) Text() string {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	return el.text
}

// SetDisabled は無効状態を設定する
func (el *Element) SetDisabled(disabled bool) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	el.disabled = disabled
}

// Disabled は無効状態を返す
func (el *Element) Disabled() bool {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	return el.disabled
}

// SetSrc は src を設定し、監視者に通知する
func (el *Element) SetSrc(src string) {
	el.doc.mu.Lock()
	el.src = src
	observers := append([]SrcObserver(nil), el.doc.observers...)
	el.doc.mu.Unlock()

	for _, o := range observers {
		o(el, src)
	}
}

// Src は src を返す
func (el *Element) Src() string {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	return el.src
}

// SetImage は表示中の画像を設定する
func (el *Element) SetImage(img image.Image) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	el.img = img
}

// SetImageForSrc は src が変わっていない場合だけ画像を設定する
// 古いストリームのフレームが新しい src を上書きしないようにするために使う
func (el *Element) SetImageForSrc(src string, img image.Image) bool {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	if el.src != src {
		return false
	}
	el.img = img
	return true
}

// Image は現在表示中の画像を返す。まだ読み込まれていなければ nil
func (el *Element) Image() image.Image {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	return el.img
}

// SetValue は入力要素の値を設定する
func (el *Element) SetValue(v string) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	el.value = v
}

// SetSelected は option 要素の選択状態を設定する
func (el *Element) SetSelected(selected bool) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	el.selected = selected
}

// Selected は option 要素の選択状態を返す
func (el *Element) Selected() bool {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	return el.selected
}

// Value は要素の値を返す
// select 要素では選択中の option の値、選択が無ければ先頭の option の値を返す
func (el *Element) Value() string {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()

	if el.tag != "select" {
		return el.value
	}
	for _, c := range el.children {
		if c.selected {
			return c.value
		}
	}
	if len(el.children) > 0 {
		return el.children[0].value
	}
	return ""
}

// SelectValue は select 要素で値が一致する option を選択する
func (el *Element) SelectValue(v string) bool {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()

	found := false
	for _, c := range el.children {
		c.selected = !found && c.value == v
		if c.selected {
			found = true
		}
	}
	return found
}

// Closest は自身と祖先のうち match を満たす最初の要素を返す
func (el *Element) Closest(match func(*Element) bool) *Element {
	el.doc.mu.Lock()
	var chain []*Element
	for cur := el; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	el.doc.mu.Unlock()

	for _, c := range chain {
		if match(c) {
			return c
		}
	}
	return nil
}

// QueryAll は子孫要素のうち match を満たすものを文書順で返す
func (el *Element) QueryAll(match func(*Element) bool) []*Element {
	var out []*Element
	for _, c := range el.descendants() {
		if match(c) {
			out = append(out, c)
		}
	}
	return out
}

// QueryFirst は match を満たす最初の子孫要素を返す
func (el *Element) QueryFirst(match func(*Element) bool) *Element {
	for _, c := range el.descendants() {
		if match(c) {
			return c
		}
	}
	return nil
}

// descendants はロック下で子孫を深さ優先で列挙する
// match はロックを外してから呼ぶので、要素のアクセサを使える
func (el *Element) descendants() []*Element {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()

	var out []*Element
	var walk func(*Element)
	walk = func(e *Element) {
		for _, c := range e.children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(el)
	return out
}

// ByClass はクラスを持つ要素にマッチする
func ByClass(name string) func(*Element) bool {
	return func(el *Element) bool { return el.HasClass(name) }
}

// ByTag はタグ名でマッチする
func ByTag(tag string) func(*Element) bool {
	return func(el *Element) bool { return el.tag == tag }
}
