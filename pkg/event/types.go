package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeArtist はアーティストエンティティを表す。
	AggregateTypeArtist AggregateType = "Artist"
	// AggregateTypeEvent は公演・展示等のイベントエンティティを表す。
	AggregateTypeEvent AggregateType = "Event"
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
	// AggregateTypeNotification は通知エンティティを表す。
	AggregateTypeNotification AggregateType = "Notification"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeArtistRegistered はアーティストが登録されたことを表す。
	TypeArtistRegistered Type = "ArtistRegistered"
	// TypeEventPublished は公演・展示等のイベントが公開されたことを表す。
	TypeEventPublished Type = "EventPublished"
	// TypeNotificationSent は通知が作成・配信されたことを表す。
	TypeNotificationSent Type = "NotificationSent"
	// TypeNotificationRead は通知が既読になったことを表す。
	TypeNotificationRead Type = "NotificationRead"
)

// Event はEvent Sourcingにおける不変のイベントレコードを表す。
// すべての状態変更はこの構造体としてEvent Storeに永続化される。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。楽観的排他制御に使用する。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// ArtistRegisteredData はArtistRegisteredイベントのデータ。
type ArtistRegisteredData struct {
	// UserID は登録を実行したユーザーのID。
	UserID string `json:"user_id"`
	// Name はアーティスト名。
	Name string `json:"name"`
	// Discipline は活動分野（音楽・美術・舞台など）。
	Discipline string `json:"discipline"`
}

// EventPublishedData はEventPublishedイベントのデータ。
type EventPublishedData struct {
	// UserID は公開を実行したユーザーのID。
	UserID string `json:"user_id"`
	// Title はイベントのタイトル。
	Title string `json:"title"`
	// StartsAt はイベントの開始日時。
	StartsAt time.Time `json:"starts_at"`
}

// NotificationSentData はNotificationSentイベントのデータ。
type NotificationSentData struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Kind は通知の種類を表すタグ。
	Kind string `json:"kind"`
	// Message は通知メッセージ。
	Message string `json:"message"`
}

// NotificationReadData はNotificationReadイベントのデータ。
type NotificationReadData struct {
	// UserID は既読化を実行したユーザーのID。
	UserID string `json:"user_id"`
	// NotificationID は既読になった通知のID。
	NotificationID string `json:"notification_id"`
}
