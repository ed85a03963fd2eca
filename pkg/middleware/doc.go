// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの生成・検証、パニックリカバリ、CORS設定など、
// 通知サービスとゲートウェイで共通して使用するミドルウェアを含む。
// クライアント側が自身のユーザーIDやトークン有効期限を知るための
// クレームデコード関数もここに置く。
package middleware
