// 通知の監視用CLI。
// 通知サービスへ接続し、保存済みの通知一覧と新着通知を端末に表示する。
// 標準入力からのコマンドで通知を既読にできる。動作確認やデバッグに使う。
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/yukihira/bunka/internal/notifyclient"
)

func main() {
	baseURL := os.Getenv("NOTIFICATION_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8086"
	}

	token := os.Getenv("BUNKA_TOKEN")
	if token == "" {
		log.Fatal("環境変数 BUNKA_TOKEN にBearerトークンを設定してください")
	}

	session, err := notifyclient.NewSession(baseURL, token)
	if err != nil {
		log.Fatalf("セッションの生成に失敗: %v", err)
	}
	defer session.Close()

	session.OnUpdate(func() {
		printNotifications(session)
	})
	session.OnError(func(err error) {
		if errors.Is(err, notifyclient.ErrAuthRequired) {
			log.Printf("トークンが失効しました。再ログインしてください: %v", err)
			return
		}
		log.Printf("接続エラー（自動再接続中）: %v", err)
	})

	ctx := context.Background()
	if err := session.Start(ctx); err != nil {
		log.Fatalf("セッションの開始に失敗: %v", err)
	}

	fmt.Printf("ユーザー %s として接続しました\n", session.UserID())
	fmt.Println("コマンド: list / read <id> / quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "list":
			printNotifications(session)
		case "read":
			if len(fields) < 2 {
				fmt.Println("使い方: read <id>")
				continue
			}
			if err := session.MarkAsRead(ctx, fields[1]); err != nil {
				log.Printf("既読化に失敗: %v", err)
			}
		case "quit":
			return
		default:
			fmt.Println("コマンド: list / read <id> / quit")
		}
	}
}

// printNotifications は現在の通知一覧を未読マーク付きで表示する。
func printNotifications(session *notifyclient.Session) {
	store := session.Store()
	fmt.Printf("--- 未読 %d / 全 %d 件 ---\n", store.UnreadCount(), store.Len())
	for _, n := range store.List() {
		mark := " "
		if !n.IsRead {
			mark = "*"
		}
		fmt.Printf("%s %s [%s] %s (%s)\n",
			mark, n.CreatedAt.Local().Format(time.DateTime), n.Kind, n.Message, n.ID)
	}
}
