package viewer

import (
	"fmt"
	"image"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	pausedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	// カードの枠
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	selectedCardStyle = cardStyle.
				BorderForeground(lipgloss.Color("10"))

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1).
			MarginRight(1)
)

// halfBlock は上半分を前景色、下半分を背景色で塗る文字
const halfBlock = "▀"

// RenderImage は画像を cols 列 rows 行の文字に縮小して描画する
// 1文字が縦2画素を表す。画像が無い場合は読み込み中の表示を返す
func RenderImage(img image.Image, cols, rows int) string {
	if cols <= 0 || rows <= 0 {
		return ""
	}
	if img == nil {
		return lipgloss.Place(cols, rows, lipgloss.Center, lipgloss.Center, dimStyle.Render("読み込み中..."))
	}

	b := img.Bounds()
	if b.Empty() {
		return lipgloss.Place(cols, rows, lipgloss.Center, lipgloss.Center, dimStyle.Render("映像なし"))
	}

	var sb strings.Builder
	for row := 0; row < rows; row++ {
		if row > 0 {
			sb.WriteByte('\n')
		}
		for col := 0; col < cols; col++ {
			x := b.Min.X + col*b.Dx()/cols
			top := b.Min.Y + (row*2)*b.Dy()/(rows*2)
			bottom := b.Min.Y + (row*2+1)*b.Dy()/(rows*2)

			sb.WriteString(lipgloss.NewStyle().
				Foreground(hexColor(img, x, top)).
				Background(hexColor(img, x, bottom)).
				Render(halfBlock))
		}
	}
	return sb.String()
}

func hexColor(img image.Image, x, y int) lipgloss.Color {
	r, g, b, _ := img.At(x, y).RGBA()
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8))
}

// truncate は表示幅 maxLen に収まるよう切り詰める
func truncate(s string, maxLen int) string {
	if lipgloss.Width(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > maxLen {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
