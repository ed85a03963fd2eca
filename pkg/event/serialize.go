package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(aggregateID string, aggregateType AggregateType, eventType Type, version int64, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// NewNotificationSent は通知の配信を表すイベントを生成する。
// AggregateIDは "notification-<通知ID>" の形式になる。
func NewNotificationSent(notificationID string, data NotificationSentData) (*Event, error) {
	return New("notification-"+notificationID, AggregateTypeUser, TypeNotificationSent, 1, data)
}

// NewNotificationRead は通知の既読化を表すイベントを生成する。
func NewNotificationRead(notificationID string, data NotificationReadData) (*Event, error) {
	return New("notification-"+notificationID, AggregateTypeNotification, TypeNotificationRead, 1, data)
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
