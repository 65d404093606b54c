//go:build !linux

package camera

// deviceName はLinux以外では名前を取得しない
func deviceName(int) string {
	return ""
}
