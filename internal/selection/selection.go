// Package selection は選択中のカメラを複数の表示（一覧とカードのグリッド）で同期する
//
// 選択状態の所有者は Synchronizer だけで、変更操作は Select / Clear / Restore に限られる。
// 各表示の要素は再描画のたびに作り直されるので、描画の後は必ず Restore で選択を当て直す。
package selection

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"webmonitor/internal/dom"
	"webmonitor/internal/store"
)

// SelectedClass は選択中の要素に付与するクラス
const SelectedClass = "selected"

// CameraIDKey はカメラIDを保持する data 属性のキー
const CameraIDKey = "cameraId"

// View はカメラを表す要素の集合
type View interface {
	// CameraElements は現在描画されているカメラ要素を返す
	CameraElements() []*dom.Element
}

// ContainerView はコンテナ直下のカメラIDを持つ要素を表示とみなす View
type ContainerView struct {
	Container *dom.Element
}

// CameraElements はカメラIDを持つ子要素を返す
func (v ContainerView) CameraElements() []*dom.Element {
	if v.Container == nil {
		return nil
	}
	var out []*dom.Element
	for _, c := range v.Container.Children() {
		if _, ok := c.Data(CameraIDKey); ok {
			out = append(out, c)
		}
	}
	return out
}

// Synchronizer は選択中カメラIDの唯一の所有者
type Synchronizer struct {
	store  store.Store
	logger zerolog.Logger

	mu       sync.Mutex
	selected string // 空文字は未選択
	views    []View
}

// New は Synchronizer を作成する。初期状態は未選択
func New(st store.Store, logger zerolog.Logger, views ...View) *Synchronizer {
	return &Synchronizer{
		store:  st,
		logger: logger.With().Str("component", "selection").Logger(),
		views:  views,
	}
}

// AddView は同期対象の表示を追加する
func (s *Synchronizer) AddView(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, v)
}

// Selected は選択中のカメラIDを返す
func (s *Synchronizer) Selected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.selected != ""
}

// Select はカメラを選択する。選択中のカメラを再度選択した場合は選択を解除する
func (s *Synchronizer) Select(ctx context.Context, id string) {
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == id {
		s.clearLocked(ctx)
		return
	}

	s.selected = id
	s.applyLocked()

	if err := s.store.Set(ctx, store.KeySelectedCamera, id); err != nil {
		s.logger.Warn().Err(err).Str("camera_id", id).Msg("選択状態を保存できませんでした")
	}
}

// Clear は選択を解除する。未選択なら何もしない
func (s *Synchronizer) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(ctx)
}

func (s *Synchronizer) clearLocked(ctx context.Context) {
	if s.selected == "" {
		return
	}

	s.selected = ""
	s.applyLocked()

	if err := s.store.Delete(ctx, store.KeySelectedCamera); err != nil {
		s.logger.Warn().Err(err).Msg("選択状態を削除できませんでした")
	}
}

// Restore は保存された選択を読み込み、現在の要素に反映する。保存はしない
func (s *Synchronizer) Restore(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.store.Get(ctx, store.KeySelectedCamera)
	if err != nil {
		s.logger.Warn().Err(err).Msg("選択状態を読み込めませんでした")
		ok = false
	}
	if !ok {
		id = ""
	}

	s.selected = id
	s.applyLocked()
}

// applyLocked は全表示の要素の選択フラグを selected に合わせる
// 既に付いているフラグはカメラに関係なく一度すべて外す
func (s *Synchronizer) applyLocked() {
	for _, v := range s.views {
		for _, el := range v.CameraElements() {
			el.RemoveClass(SelectedClass)
		}
	}
	if s.selected == "" {
		return
	}
	for _, v := range s.views {
		for _, el := range v.CameraElements() {
			if id, _ := el.Data(CameraIDKey); id == s.selected {
				el.AddClass(SelectedClass)
			}
		}
	}
}
