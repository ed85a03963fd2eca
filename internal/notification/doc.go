// Package notification は通知サービスの内部実装を提供する。
//
// アーティスト登録やイベント公開など、プラットフォーム内の出来事を
// ユーザーへの通知として保存・配信する。REST APIで通知の一覧取得と
// 既読管理を提供し、SSEストリームで新着通知をリアルタイムに押し出す。
package notification
