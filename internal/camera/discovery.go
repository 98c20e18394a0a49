package camera

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// fpsTolerance は実測フレームレートを許容する割合
const fpsTolerance = 0.8

// DefaultResolutions は能力を検出できなかった場合の解像度
var DefaultResolutions = []Resolution{{Width: 640, Height: 480}}

// DefaultFPS は能力を検出できなかった場合のフレームレート
var DefaultFPS = []int{30}

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct{}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() Discovery {
	return &LinuxDiscovery{}
}

// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
func (d *LinuxDiscovery) ScanDevices(ctx context.Context, maxIndex int) ([]DeviceInfo, error) {
	var devices []DeviceInfo

	for index := 0; index < maxIndex; index++ {
		// コンテキストのキャンセルをチェック
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		device := fmt.Sprintf("/dev/video%d", index)
		if !d.IsDeviceAvailable(ctx, device) {
			continue
		}

		devices = append(devices, DeviceInfo{
			Index:  index,
			Device: device,
			Name:   d.generateDeviceName(device),
		})
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !isV4L2Device(device) {
		return false
	}

	// デバイスファイルの読み取り権限チェック
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()

	return true
}

// ProbeCapabilities はv4l2-ctlの出力から対応する解像度とフレームレートを判定する
func (d *LinuxDiscovery) ProbeCapabilities(ctx context.Context, device string, resolutions []Resolution, fps []int) ([]Resolution, []int) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext")
	output, err := cmd.Output()
	if err != nil {
		return append([]Resolution(nil), DefaultResolutions...), append([]int(nil), DefaultFPS...)
	}

	sizes, maxFPS := parseFormats(string(output))
	return selectCapabilities(sizes, maxFPS, resolutions, fps)
}

var (
	sizePattern     = regexp.MustCompile(`Size:\s+\w+\s+(\d+)x(\d+)`)
	intervalPattern = regexp.MustCompile(`\(([\d.]+)\s*fps\)`)
)

// parseFormats は --list-formats-ext の出力から解像度一覧と最大フレームレートを抽出する
func parseFormats(output string) (map[Resolution]bool, float64) {
	sizes := make(map[Resolution]bool)
	var maxFPS float64

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if m := sizePattern.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			sizes[Resolution{Width: w, Height: h}] = true
			continue
		}
		if m := intervalPattern.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > maxFPS {
				maxFPS = v
			}
		}
	}

	return sizes, maxFPS
}

// selectCapabilities は候補のうち対応しているものを候補の順序のまま返す
func selectCapabilities(sizes map[Resolution]bool, maxFPS float64, resolutions []Resolution, fps []int) ([]Resolution, []int) {
	var supportedRes []Resolution
	for _, r := range resolutions {
		if sizes[r] {
			supportedRes = append(supportedRes, r)
		}
	}

	var supportedFPS []int
	for _, f := range fps {
		if maxFPS >= float64(f)*fpsTolerance {
			supportedFPS = append(supportedFPS, f)
		}
	}

	if len(supportedRes) == 0 {
		supportedRes = append([]Resolution(nil), DefaultResolutions...)
	}
	if len(supportedFPS) == 0 {
		supportedFPS = append([]int(nil), DefaultFPS...)
	}

	return supportedRes, supportedFPS
}

// isV4L2Device はデバイスパスが /dev/videoN 形式かチェックする
func isV4L2Device(device string) bool {
	matched, _ := regexp.MatchString(`^/dev/video\d+$`, device)
	return matched
}

// generateDeviceName はデバイスパスから表示名を生成する
func (d *LinuxDiscovery) generateDeviceName(device string) string {
	// v4l2-ctlを使って実際のカメラ名を取得
	if realName := getV4L2DeviceName(device); realName != "" {
		return realName
	}

	// フォールバック: デバイス番号から生成
	return FallbackName(extractDeviceNumber(device))
}

// FallbackName はデバイス名が取得できない場合の表示名
func FallbackName(index int) string {
	return fmt.Sprintf("カメラ %d", index)
}

// getV4L2DeviceName はv4l2-ctlを使って実際のデバイス名を取得する
func getV4L2DeviceName(device string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}

	// "Card type" の行からカメラ名を抽出
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Card type") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if cardType := strings.TrimSpace(parts[1]); cardType != "" {
					return cardType
				}
			}
		}
	}

	return ""
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	re := regexp.MustCompile(`video(\d+)`)
	matches := re.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}

	return num
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	Devices     []DeviceInfo
	Resolutions []Resolution
	FPS         []int
	Err         error
}

// NewMockDiscovery はデバイス番号の一覧からMockDiscoveryを作成する
func NewMockDiscovery(indexes ...int) *MockDiscovery {
	m := &MockDiscovery{
		Resolutions: []Resolution{{Width: 1280, Height: 720}, {Width: 640, Height: 480}},
		FPS:         []int{30, 15},
	}
	for _, i := range indexes {
		m.Devices = append(m.Devices, DeviceInfo{
			Index:  i,
			Device: fmt.Sprintf("/dev/video%d", i),
			Name:   fmt.Sprintf("テストカメラ %d", i),
		})
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context, maxIndex int) ([]DeviceInfo, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []DeviceInfo
	for _, d := range m.Devices {
		if d.Index < maxIndex {
			out = append(out, d)
		}
	}
	return out, nil
}

// ProbeCapabilities はモックの能力を返す
func (m *MockDiscovery) ProbeCapabilities(_ context.Context, _ string, _ []Resolution, _ []int) ([]Resolution, []int) {
	return append([]Resolution(nil), m.Resolutions...), append([]int(nil), m.FPS...)
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(index int) {
	for i, d := range m.Devices {
		if d.Index == index {
			m.Devices = append(m.Devices[:i], m.Devices[i+1:]...)
			return
		}
	}
}
