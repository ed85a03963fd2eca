// Package httpclient はサービス間およびクライアント・サーバー間のHTTP通信を行う
// クライアントを提供する。
//
// 通知サービスからEvent Storeへのイベント送信、通知クライアントからの
// スナップショット取得・既読化リクエストなど、JSONベースの通信パターンを統一する。
// 非2xxレスポンスはサーバーが返したエラーメッセージを保持したStatusErrorになる。
package httpclient
