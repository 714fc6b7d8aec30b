package model

import (
	"time"

	"github.com/segmentio/encoding/json"
)

// DepositCompleted 充值到账事件
type DepositCompleted struct {
	DepositID     int64     `json:"deposit_id"`
	UserID        int64     `json:"user_id"`
	Chain         string    `json:"chain"`
	Network       string    `json:"network"`
	Asset         string    `json:"asset"`
	Amount        string    `json:"amount"`
	TxHash        string    `json:"tx_hash"`
	Confirmations uint64    `json:"confirmations"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// DepositNotification 通知 outbox，核心只插入，relay 发布后写 published_at
type DepositNotification struct {
	ID          int64      `gorm:"column:id;primaryKey"`
	DepositID   int64      `gorm:"column:deposit_id;uniqueIndex"`
	UserID      int64      `gorm:"column:user_id"`
	Asset       string     `gorm:"column:asset;size:32"`
	Amount      string     `gorm:"column:amount;size:64"`
	TxHash      string     `gorm:"column:tx_hash;size:128"`
	Payload     string     `gorm:"column:payload;type:text"`
	PublishedAt *time.Time `gorm:"column:published_at;index"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
}

func (DepositNotification) TableName() string {
	return "deposit_notifications"
}

func NewNotification(ev DepositCompleted) (*DepositNotification, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &DepositNotification{
		DepositID: ev.DepositID,
		UserID:    ev.UserID,
		Asset:     ev.Asset,
		Amount:    ev.Amount,
		TxHash:    ev.TxHash,
		Payload:   string(b),
	}, nil
}

// Event 反序列化 payload
func (n *DepositNotification) Event() (DepositCompleted, error) {
	var ev DepositCompleted
	err := json.Unmarshal([]byte(n.Payload), &ev)
	return ev, err
}
