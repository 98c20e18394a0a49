package preview

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"webmonitor/internal/dom"
)

// 要素のid
const (
	IDFeed             = "cameraFeed"
	IDStatus           = "streamStatus"
	IDPauseButton      = "pauseBtn"
	IDResolutionSelect = "resolutionSelect"
	IDFPSSelect        = "fpsSelect"
	IDApplyButton      = "applySettings"
	IDDownloadButton   = "downloadBtn"
	IDBackLink         = "backLink"
)

// Page はプレビューページ
type Page struct {
	Doc        *dom.Document
	Controller *Controller
	Elements   Elements

	Title    *dom.Element
	Apply    *dom.Element
	Download *dom.Element
	Back     *dom.Element

	mu        sync.Mutex
	lastSaved string
}

// NewPage はプレビューページの要素を作り、操作を Controller に結び付ける
// ctx はクリック操作から発生するバックエンド呼び出しに使う
func NewPage(ctx context.Context, doc *dom.Document, cameraID int, cameraName string, backend Backend, logger zerolog.Logger, opts ...Option) *Page {
	o := buildOptions(opts)
	if o.navigate == nil {
		o.navigate = doc.SetLocation
	}
	body := doc.Body()

	p := &Page{Doc: doc}

	p.Back = body.AppendChild(newElement(doc, "a", IDBackLink, "← 一覧に戻る"))
	p.Title = body.AppendChild(newElement(doc, "h1", "", cameraName))

	feed := body.AppendChild(newElement(doc, "img", IDFeed, ""))
	feed.AddClass("camera-feed")
	feed.SetData("cameraId", strconv.Itoa(cameraID))
	feed.SetData("cameraName", cameraName)

	controls := body.AppendChild(doc.CreateElement("div"))
	controls.AddClass("preview-controls")
	status := controls.AppendChild(newElement(doc, "span", IDStatus, StatusLive))
	pause := controls.AppendChild(newElement(doc, "button", IDPauseButton, LabelPause))
	resSel := controls.AppendChild(newElement(doc, "select", IDResolutionSelect, ""))
	fpsSel := controls.AppendChild(newElement(doc, "select", IDFPSSelect, ""))
	p.Apply = controls.AppendChild(newElement(doc, "button", IDApplyButton, "適用"))
	p.Download = controls.AppendChild(newElement(doc, "button", IDDownloadButton, "ダウンロード"))

	p.Elements = Elements{
		Feed:             feed,
		Status:           status,
		PauseButton:      pause,
		ResolutionSelect: resSel,
		FPSSelect:        fpsSel,
	}
	p.Controller = NewController(cameraID, cameraName, backend, p.Elements, logger, opts...)

	// 初期表示はパラメータなしのライブ映像
	feed.SetSrc(FeedURL(cameraID, nil, p.Controller.token()))

	pause.AddEventListener(dom.EventClick, func(*dom.Event) {
		_ = p.Controller.TogglePause()
	})
	p.Apply.AddEventListener(dom.EventClick, func(*dom.Event) {
		width, height, fps := p.selectedSettings()
		// 失敗は Controller がログに記録する
		_ = p.Controller.ApplySettings(ctx, width, height, fps)
	})
	p.Download.AddEventListener(dom.EventClick, func(*dom.Event) {
		path, err := p.Controller.SaveSnapshot(o.downloadDir)
		if err != nil {
			p.Controller.logger.Warn().Err(err).Msg("スナップショットを保存できませんでした")
			return
		}
		p.mu.Lock()
		p.lastSaved = path
		p.mu.Unlock()
	})
	p.Back.AddEventListener(dom.EventClick, func(*dom.Event) {
		o.navigate("/")
	})

	return p
}

// LastSaved はダウンロードボタンで最後に保存したファイルを返す
func (p *Page) LastSaved() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSaved
}

// selectedSettings は選択肢から設定値を読み取る。自動の項目は nil
func (p *Page) selectedSettings() (width, height, fps *int) {
	if w, h, ok := ParseResolution(p.Elements.ResolutionSelect.Value()); ok {
		width, height = &w, &h
	}
	if f, err := strconv.Atoi(p.Elements.FPSSelect.Value()); err == nil {
		fps = &f
	}
	return width, height, fps
}

func newElement(doc *dom.Document, tag, id, text string) *dom.Element {
	el := doc.CreateElement(tag)
	if id != "" {
		el.SetAttr("id", id)
	}
	if text != "" {
		el.SetText(text)
	}
	return el
}
