package notifyclient

import (
	"encoding/json"
	"fmt"
	"time"
)

// Notification はクライアント側で保持する通知を表す。
type Notification struct {
	// ID は通知の一意識別子。サーバーが採番する。
	ID string
	// UserID は通知の所有者のユーザーID。
	UserID string
	// Kind は通知の種類を表すタグ（artist_registered, event_published など）。
	Kind string
	// Message は通知メッセージ。
	Message string
	// IsRead は通知の既読状態。falseからtrueへの一方向にのみ遷移する。
	IsRead bool
	// CreatedAt は通知の作成日時。表示順序の唯一のキー。
	CreatedAt time.Time
}

// wireNotification は通知サービスが返すJSON表現。
type wireNotification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// decodeWire はワイヤ表現を検証してNotificationに変換する。
// 必須フィールドの欠落や日時の形式不正はエラーとして報告し、
// 呼び出し側がそのエントリを破棄できるようにする。
func decodeWire(w wireNotification) (Notification, error) {
	if w.ID == "" {
		return Notification{}, fmt.Errorf("通知のidが空")
	}
	if w.UserID == "" {
		return Notification{}, fmt.Errorf("通知のuser_idが空: id=%s", w.ID)
	}

	createdAt, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("通知のcreated_atが不正: id=%s: %w", w.ID, err)
	}

	return Notification{
		ID:        w.ID,
		UserID:    w.UserID,
		Kind:      w.Kind,
		Message:   w.Message,
		IsRead:    w.IsRead,
		CreatedAt: createdAt,
	}, nil
}

// decodePayload はプッシュイベントのJSONペイロードをNotificationに変換する。
func decodePayload(data []byte) (Notification, error) {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return Notification{}, fmt.Errorf("通知ペイロードのデシリアライズに失敗: %w", err)
	}
	return decodeWire(w)
}
