package notification

import (
	"sync"
)

// subscriberBufferSize は購読者ごとの配信バッファの容量。
const subscriberBufferSize = 16

// Hub はSSEストリームの購読者をユーザーごとに管理するインプロセスのレジストリ。
// 同一ユーザーが複数のタブ・端末から接続した場合、全接続へ同じ通知を配信する。
type Hub struct {
	// mu は購読者マップを保護するミューテックス。
	mu sync.Mutex
	// subscribers はユーザーIDごとの購読チャネルの集合。
	subscribers map[string]map[chan notificationResponse]struct{}
}

// NewHub は新しいHubを生成する。
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan notificationResponse]struct{}),
	}
}

// Subscribe は指定ユーザーの購読チャネルを登録し、解除関数を返す。
// 解除関数は複数回呼んでも安全で、呼び出し後はチャネルがクローズされる。
func (h *Hub) Subscribe(userID string) (<-chan notificationResponse, func()) {
	ch := make(chan notificationResponse, subscriberBufferSize)

	h.mu.Lock()
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[chan notificationResponse]struct{})
	}
	h.subscribers[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subscribers[userID], ch)
			if len(h.subscribers[userID]) == 0 {
				delete(h.subscribers, userID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish は指定ユーザーの全購読者へ通知を配信する。
// バッファが満杯の購読者はスキップし、遅い購読者が配信全体を塞ぐことを防ぐ。
func (h *Hub) Publish(userID string, n notificationResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers[userID] {
		select {
		case ch <- n:
		default:
			// 読み出しが追いつかない購読者には配信しない
		}
	}
}

// SubscriberCount は指定ユーザーの現在の購読者数を返す。
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[userID])
}
