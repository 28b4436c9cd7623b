package service

import "time"

// Clock 返回当前时间，测试中可替换为虚拟时钟。
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
