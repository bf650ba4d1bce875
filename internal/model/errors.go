package model

import "errors"

var (
	// ErrPermissionDenied 进程没有打开/独占设备节点的权限
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound 设备节点在枚举和打开之间消失
	ErrNotFound = errors.New("device not found")
	// ErrAlreadyInUse 其他进程已经独占了该设备
	ErrAlreadyInUse = errors.New("device already grabbed by another process")
	// ErrDeviceGone 后台读取过程中设备被拔出
	ErrDeviceGone = errors.New("device gone")
)
