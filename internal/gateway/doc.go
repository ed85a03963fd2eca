// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// JWT発行とリクエストルーティングを担当する。外部からアクセス可能な
// 唯一のサービスであり、セキュリティの境界線として機能する。
// 認証済みリクエストを通知サービスに転送し、SSEストリームの中継も行う。
package gateway
