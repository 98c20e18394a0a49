// Package viewer はターミナル上でページを表示するビューア
//
// ページの要素ツリーを lipgloss で描画し、キー操作をクリックとして要素に送る。
// img 要素の src が変わると Loader がMJPEGストリームを読み込み、要素の画像を更新する。
package viewer

import (
	"bytes"
	"context"
	"image/jpeg"
	"sync"

	"github.com/rs/zerolog"

	"webmonitor/internal/dom"
	"webmonitor/internal/preview"
)

// Streamer はMJPEGストリームの取得元
type Streamer interface {
	Stream(ctx context.Context, src string) (<-chan []byte, error)
}

// stream は1要素分の読み込み
type stream struct {
	src    string
	cancel context.CancelFunc
}

// Loader は img 要素の src に応じてストリームを読み込む
type Loader struct {
	ctx      context.Context
	streamer Streamer
	logger   zerolog.Logger
	onFrame  func()

	mu      sync.Mutex
	streams map[*dom.Element]*stream
}

// NewLoader は新しいLoaderを作成する。onFrame はフレームを表示するたびに呼ばれる
func NewLoader(ctx context.Context, streamer Streamer, logger zerolog.Logger, onFrame func()) *Loader {
	if onFrame == nil {
		onFrame = func() {}
	}
	return &Loader{
		ctx:      ctx,
		streamer: streamer,
		logger:   logger.With().Str("component", "loader").Logger(),
		onFrame:  onFrame,
		streams:  make(map[*dom.Element]*stream),
	}
}

// Attach はドキュメントの src 変更の監視を始める
func (l *Loader) Attach(doc *dom.Document) {
	doc.ObserveSrc(l.load)
}

// load は要素の以前の読み込みを止め、新しい src の読み込みを始める
// 静止画（data: URL）や空の src は読み込まない
func (l *Loader) load(el *dom.Element, src string) {
	if el.Tag() != "img" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.streams[el]; ok {
		prev.cancel()
		delete(l.streams, el)
	}
	if src == "" || preview.IsStill(src) {
		return
	}

	ctx, cancel := context.WithCancel(l.ctx)
	s := &stream{src: src, cancel: cancel}
	l.streams[el] = s

	go l.run(ctx, el, s)
}

func (l *Loader) run(ctx context.Context, el *dom.Element, s *stream) {
	defer l.finish(el, s)

	frames, err := l.streamer.Stream(ctx, s.src)
	if err != nil {
		l.logger.Debug().Err(err).Str("src", s.src).Msg("ストリームを開けませんでした")
		return
	}

	for frame := range frames {
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			l.logger.Debug().Err(err).Msg("フレームを復号できませんでした")
			continue
		}
		// 再描画で外された要素や src が変わった要素の読み込みは終わらせる
		if !el.Connected() || !el.SetImageForSrc(s.src, img) {
			return
		}
		l.onFrame()
	}
}

// finish は読み込みの終了を記録する。要素に新しい読み込みがあればそのまま残す
func (l *Loader) finish(el *dom.Element, s *stream) {
	s.cancel()

	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.streams[el]; ok && cur == s {
		delete(l.streams, el)
	}
}

// Stop はドキュメントに属する要素の読み込みをすべて止める
func (l *Loader) Stop(doc *dom.Document) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for el, s := range l.streams {
		if el.Document() == doc {
			s.cancel()
			delete(l.streams, el)
		}
	}
}

// Close はすべての読み込みを止める
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for el, s := range l.streams {
		s.cancel()
		delete(l.streams, el)
	}
}

// Active は読み込み中の要素数を返す
func (l *Loader) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.streams)
}
