//go:build linux

package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blackjack/webcam"
)

// deviceName は /dev/videoN の名前を取得する
// V4L2のカード名を優先し、取得できなければsysfsの名前を使う
func deviceName(index int) string {
	path := fmt.Sprintf("/dev/video%d", index)

	if cam, err := webcam.Open(path); err == nil {
		name, err := cam.GetName()
		_ = cam.Close()
		if err == nil && name != "" {
			return strings.TrimSpace(name)
		}
	}

	data, err := os.ReadFile(filepath.Join("/sys/class/video4linux", fmt.Sprintf("video%d", index), "name"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
