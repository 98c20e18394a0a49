package preview

import (
	"fmt"
	"strconv"
	"strings"
)

// FeedURL はライブ映像のURLを組み立てる
// 幅と高さは両方ある場合だけ付与し、キャッシュ回避用のトークン v は常に最後に付ける
func FeedURL(cameraID int, p *Params, token string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "/video_feed/%d", cameraID)

	var query []string
	if p != nil {
		if p.Width > 0 && p.Height > 0 {
			query = append(query, "width="+strconv.Itoa(p.Width), "height="+strconv.Itoa(p.Height))
		}
		if p.FPS > 0 {
			query = append(query, "fps="+strconv.Itoa(p.FPS))
		}
	}
	if token != "" {
		query = append(query, "v="+token)
	}

	if len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(strings.Join(query, "&"))
	}
	return b.String()
}

// ParseResolution は "1920x1080" 形式の値を解釈する。空文字は未指定
func ParseResolution(v string) (width, height int, ok bool) {
	w, h, found := strings.Cut(v, "x")
	if !found {
		return 0, 0, false
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, false
	}
	height, err = strconv.Atoi(h)
	if err != nil {
		return 0, 0, false
	}
	return width, height, true
}
