// Package notifyclient は通知サービスに接続するクライアント側のコアを提供する。
//
// ログイン中のユーザーの未読通知状態をサーバー側の真実と一致させ続けることが
// 責務である。構成要素は次の3つ。
//
//   - Store: スナップショットとプッシュイベントを重複なく正しい順序でマージする
//     通知リストの唯一の情報源。未読数はリストから導出される。
//   - Channel: 通知サービスのSSEエンドポイントへの自動再接続付き常時接続。
//     切断時は固定間隔で上限回数まで再接続を試みる。
//   - Session: 認証情報とChannelのライフサイクルを束ねるゲート。スナップショット
//     適用前に届いたプッシュイベントのバッファリング、既読化のサーバー反映、
//     ログアウト時の決定的な解体順序を担う。
//
// Sessionはログインセッションごとに新しく生成する。前のユーザーの通知が
// 次のセッションに漏れないことは、インスタンスを共有しないことで構造的に保証される。
package notifyclient
