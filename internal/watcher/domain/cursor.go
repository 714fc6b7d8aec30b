package domain

import (
	"context"
	"time"
)

// ScanCursor 定时扫描的断点，按 (chain, network, asset) 记录
type ScanCursor struct {
	ID        int64     `gorm:"primaryKey"`
	Chain     string    `gorm:"size:16;uniqueIndex:uniq_cursor,priority:1"`
	Network   string    `gorm:"size:16;uniqueIndex:uniq_cursor,priority:2"`
	Asset     string    `gorm:"size:32;uniqueIndex:uniq_cursor,priority:3"`
	LastBlock uint64    // 已扫描完成的最高区块
	LastTime  time.Time // 按时间索引的数据源使用
	UpdatedAt time.Time
}

func (ScanCursor) TableName() string {
	return "scan_cursors"
}

type CursorRepo interface {
	// GetCursor 第一次运行返回 nil
	GetCursor(ctx context.Context, chain, network, asset string) (*ScanCursor, error)
	SaveCursor(ctx context.Context, c *ScanCursor) error
}
