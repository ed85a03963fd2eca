package notifyclient

import "errors"

// ErrAuthRequired は認証情報が無い、または失効した状態で
// 認証が必要な操作を実行したことを表す。自動では再試行しない。
// 利用側は再ログインを促すこと。
var ErrAuthRequired = errors.New("認証が必要です")

// ErrSessionClosed は解体済みのセッションに対する操作を表す。
var ErrSessionClosed = errors.New("セッションは終了しています")
