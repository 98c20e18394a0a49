// Package preview は1台のカメラ映像のライブ表示と一時停止を管理する
//
// Controller がプレビューの状態（ライブか停止中か、停止中の画像、ストリームのパラメータ）を所有する。
// 映像要素は状態の表示先にすぎず、停止中の画像は要素ではなく State に保持する。
package preview

// Mode はプレビューの表示モード
type Mode int

const (
	// Live はストリームを表示している状態
	Live Mode = iota
	// Frozen は取り込んだ静止画を表示している状態
	Frozen
)

// String はモード名を返す
func (m Mode) String() string {
	switch m {
	case Live:
		return "live"
	case Frozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// 表示文言
const (
	StatusLive   = "ライブ"
	StatusPaused = "一時停止中"
	LabelPause   = "一時停止"
	LabelResume  = "再開"
)

// Params はライブ映像エンドポイントのパラメータ。0 は省略を表す
type Params struct {
	Width  int
	Height int
	FPS    int
}

// State はプレビューの状態
// Frozen は Mode が Frozen のときだけ値を持つ
type State struct {
	Mode   Mode
	Frozen []byte  // 停止時に取り込んだJPEG
	Params *Params // 未設定なら nil
}

func (s State) clone() State {
	out := s
	if s.Frozen != nil {
		out.Frozen = append([]byte(nil), s.Frozen...)
	}
	if s.Params != nil {
		p := *s.Params
		out.Params = &p
	}
	return out
}
