package analysis

import (
	"os"
	"path/filepath"
	"strings"
)

// USBInfo 输入设备所在 USB 物理设备的信息
type USBInfo struct {
	Root    string
	Vendor  string
	Product string
	Serial  string
	// 同一设备同时暴露 HID(03) 与存储(08) 接口, 典型的 BadUSB 特征
	HIDWithStorage bool
}

// InspectUSB 从 sysfs 路径向上回溯到 USB 设备根目录并读取信息
// 非 USB 设备 (i2c/PS2) 返回 ok=false
func InspectUSB(sysPath string) (USBInfo, bool) {
	root, ok := findUSBRoot(sysPath)
	if !ok {
		return USBInfo{}, false
	}
	info := USBInfo{
		Root:    root,
		Vendor:  readAttr(filepath.Join(root, "idVendor")),
		Product: readAttr(filepath.Join(root, "product")),
		Serial:  readAttr(filepath.Join(root, "serial")),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return info, true
	}
	var hid, storage bool
	for _, e := range entries {
		// 接口目录形如 1-1:1.0
		if !strings.Contains(e.Name(), ":") {
			continue
		}
		switch readAttr(filepath.Join(root, e.Name(), "bInterfaceClass")) {
		case "03":
			hid = true
		case "08":
			storage = true
		}
	}
	info.HIDWithStorage = hid && storage
	return info, true
}

// findUSBRoot 向上最多 10 层, 找包含 idVendor 的目录
func findUSBRoot(path string) (string, bool) {
	dir := path
	for i := 0; i < 10; i++ {
		dir = filepath.Dir(dir)
		if dir == "/" || dir == "." {
			break
		}
		if _, err := os.Stat(filepath.Join(dir, "idVendor")); err == nil {
			return dir, true
		}
	}
	return "", false
}

func readAttr(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(b))
}
