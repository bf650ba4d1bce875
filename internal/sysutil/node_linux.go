//go:build linux

package sysutil

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// WaitForNode 轮询等待设备节点出现
// udev add 事件到达时 /dev/input/eventN 可能还没创建好
func WaitForNode(devPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if fi, err := os.Stat(devPath); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// IsRoot 独占 evdev 节点通常需要 root 或 input 组
func IsRoot() bool {
	return unix.Geteuid() == 0
}
