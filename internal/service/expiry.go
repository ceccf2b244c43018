package service

import "time"

// ExpiryPolicy 把创建时间映射为过期时间。
type ExpiryPolicy interface {
	ExpiresAt(created time.Time) time.Time
}

// FixedTTL 从创建时刻起滚动计算固定存活时长。
type FixedTTL time.Duration

func (t FixedTTL) ExpiresAt(created time.Time) time.Time {
	return created.Add(time.Duration(t))
}
