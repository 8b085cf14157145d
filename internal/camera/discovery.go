package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var videoDevicePattern = regexp.MustCompile(`^/dev/video(\d+)$`)

// commandRunner は外部コマンドを実行して標準出力を返す
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// LinuxDiscovery は /dev/video* と v4l2-ctl を使ってカメラデバイスを検出する
type LinuxDiscovery struct {
	glob    string
	run     commandRunner
	timeout time.Duration
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	return &LinuxDiscovery{
		glob:    "/dev/video*",
		run:     execRunner,
		timeout: 5 * time.Second,
	}
}

// ScanDevices はカラー映像を出力できるデバイスを番号順に返す
// 同じカメラが複数のノードを持つ場合は最小の番号だけを残す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.glob)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seen := make(map[string]bool)
	for _, dev := range matches {
		if err := ctx.Err(); err != nil {
			return devices, err
		}
		if !d.IsDeviceAvailable(ctx, dev) {
			continue
		}

		info, err := d.GetDeviceInfo(ctx, dev)
		if err != nil || !hasColorFormat(info.Formats) {
			continue
		}
		if info.Name != "" && seen[info.Name] {
			continue
		}
		seen[info.Name] = true
		devices = append(devices, dev)
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが読み取り可能なV4L2ノードかチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !videoDevicePattern.MatchString(device) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// GetDeviceInfo は v4l2-ctl からデバイス名、ドライバー、フォーマットを取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.run(ctx, "v4l2-ctl", "--device", device, "--info")
	if err != nil {
		return nil, fmt.Errorf("デバイス情報の取得に失敗: %w", err)
	}

	info := parseV4L2Info(out)
	info.Device = device
	if info.Name == "" {
		info.Name = fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
	}

	if formats, err := d.run(ctx, "v4l2-ctl", "--device", device, "--list-formats"); err == nil {
		info.Formats = parseV4L2Formats(formats)
	}

	return &info, nil
}

// parseV4L2Info は `v4l2-ctl --info` の出力を解析する
func parseV4L2Info(out []byte) DeviceInfo {
	var info DeviceInfo
	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Card type":
			info.Name = strings.TrimSpace(value)
		case "Driver name":
			info.Driver = strings.TrimSpace(value)
		}
	}
	return info
}

var formatPattern = regexp.MustCompile(`\[\d+\]:\s*'(\w+)'`)

// parseV4L2Formats は `v4l2-ctl --list-formats` の出力からFourCCを取り出す
func parseV4L2Formats(out []byte) []string {
	var formats []string
	for _, m := range formatPattern.FindAllSubmatch(out, -1) {
		formats = append(formats, string(m[1]))
	}
	return formats
}

// hasColorFormat はカラー映像のフォーマットを含むかを返す
// GREY しか出さないノード (赤外線カメラなど) は除外する
func hasColorFormat(formats []string) bool {
	for _, f := range formats {
		switch f {
		case "YUYV", "MJPG", "RGB3", "BGR3", "NV12":
			return true
		}
	}
	return false
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	m := videoDevicePattern.FindStringSubmatch(device)
	if len(m) < 2 {
		return 0
	}
	num, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return num
}
