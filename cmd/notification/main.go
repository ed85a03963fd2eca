// 通知サービスのエントリポイント。
// プラットフォーム内の出来事をユーザーへの通知として保存し、
// REST APIとSSEストリームで配信する。
package main

import (
	"log"
	"os"

	"github.com/yukihira/bunka/internal/notification"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8086"
	}

	server, err := notification.NewServer(port)
	if err != nil {
		log.Fatalf("通知サーバーの初期化に失敗: %v", err)
	}

	log.Printf("通知サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
}
