package preview

import (
	"fmt"
	"strconv"

	"webmonitor/internal/camera"
	"webmonitor/internal/dom"
)

// AutoLabel は未指定を表す先頭の選択肢
const AutoLabel = "自動"

// PopulateResolutions は解像度の選択肢を作り直す。現在の解像度を選択状態にする
func PopulateResolutions(sel *dom.Element, cam camera.Camera) {
	if sel == nil {
		return
	}
	doc := sel.Document()

	opts := []*dom.Element{newOption(doc, "", AutoLabel, false)}
	for _, r := range cam.SupportedResolutions {
		current := cam.CurrentResolution != nil && *cam.CurrentResolution == r
		opts = append(opts, newOption(doc, r.String(), fmt.Sprintf("%d × %d", r.Width, r.Height), current))
	}
	sel.ReplaceChildren(opts...)
}

// PopulateFPS はフレームレートの選択肢を作り直す
func PopulateFPS(sel *dom.Element, cam camera.Camera) {
	if sel == nil {
		return
	}
	doc := sel.Document()

	opts := []*dom.Element{newOption(doc, "", AutoLabel, false)}
	for _, f := range cam.SupportedFPS {
		current := cam.CurrentFPS != nil && *cam.CurrentFPS == f
		opts = append(opts, newOption(doc, strconv.Itoa(f), fmt.Sprintf("%d FPS", f), current))
	}
	sel.ReplaceChildren(opts...)
}

func newOption(doc *dom.Document, value, label string, selected bool) *dom.Element {
	opt := doc.CreateElement("option")
	opt.SetValue(value)
	opt.SetText(label)
	opt.SetSelected(selected)
	return opt
}
