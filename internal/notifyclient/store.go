package notifyclient

import (
	"sort"
	"sync"
)

// Store は通知リストと未読数のクライアント側における唯一の情報源。
// スナップショット（一括取得）とプッシュイベント（逐次配信）という
// 2つの独立した情報源を、重複なく・作成日時の降順でマージする。
//
// すべての操作はミューテックスで逐次化される。未読数は保持する集合と
// 常に同期して増減され、`is_read == false` の件数と一致し続ける。
type Store struct {
	// mu は全フィールドへのアクセスを逐次化するミューテックス。
	mu sync.Mutex
	// ownerID はこのStoreを所有するユーザーのID。
	// 異なる所有者の通知は挿入を拒否する。
	ownerID string
	// items は作成日時の降順（新しい順）で保持する通知リスト。
	// 同時刻の通知は先に到着したものが先に並ぶ。
	items []Notification
	// index はIDからの重複判定・既読化のための索引。itemsと常に同期する。
	index map[string]int
	// unread は未読数。itemsの変化と同時に増減する導出値。
	unread int
}

// NewStore は指定されたユーザーを所有者とする空のStoreを生成する。
func NewStore(ownerID string) *Store {
	return &Store{
		ownerID: ownerID,
		index:   make(map[string]int),
	}
}

// LoadSnapshot はStoreの内容をスナップショットで丸ごと置き換える。
// 所有者が一致しないエントリは捨てられる。未読数は再計算される。
// チャネル接続サイクルごとに一度だけ、プッシュイベントの適用前に呼ぶこと。
// 順序付けは呼び出し側（Session）が保証する。
func (s *Store) LoadSnapshot(list []Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(list))
	s.items = make([]Notification, 0, len(list))
	for _, n := range list {
		if n.UserID != s.ownerID {
			continue
		}
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		s.items = append(s.items, n)
	}

	// 同時刻のエントリはスナップショット内の並び（到着順）を保つ
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].CreatedAt.After(s.items[j].CreatedAt)
	})

	s.rebuildLocked()
}

// ApplyPush はプッシュイベントで届いた通知を1件マージする。
// 同じIDのエントリが既に存在する場合（再接続後の重複配信など）は捨てる。
// 所有者が一致しない通知も捨てる。挿入した場合はtrueを返す。
func (s *Store) ApplyPush(n Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.UserID != s.ownerID {
		return false
	}
	if _, ok := s.index[n.ID]; ok {
		return false
	}

	// プッシュイベントは通常最新なので先頭探索はすぐ終わる。
	// 同時刻のエントリは先に到着したものを上位に保つ。
	pos := len(s.items)
	for i := range s.items {
		if s.items[i].CreatedAt.Before(n.CreatedAt) {
			pos = i
			break
		}
	}

	s.items = append(s.items, Notification{})
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = n

	s.rebuildIndexLocked(pos)
	if !n.IsRead {
		s.unread++
	}
	return true
}

// MarkRead は指定されたIDの通知を既読にする。
// 存在しない、または既読の場合は何もしない（冪等）。
// 未読から既読に遷移した場合のみtrueを返し、未読数をちょうど1減らす。
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[id]
	if !ok || s.items[pos].IsRead {
		return false
	}

	s.items[pos].IsRead = true
	s.unread--
	return true
}

// UnreadCount は未読の通知数を返す。
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// List は通知リストのコピーを作成日時の降順で返す。
func (s *Store) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]Notification, len(s.items))
	copy(list, s.items)
	return list
}

// Len は保持している通知数を返す。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Clear はStoreを空にする。セッション解体時に呼ばれる。
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	s.index = make(map[string]int)
	s.unread = 0
}

// rebuildLocked は索引と未読数をitemsから作り直す。muを保持して呼ぶこと。
func (s *Store) rebuildLocked() {
	s.index = make(map[string]int, len(s.items))
	s.unread = 0
	for i, n := range s.items {
		s.index[n.ID] = i
		if !n.IsRead {
			s.unread++
		}
	}
}

// rebuildIndexLocked はfrom以降の索引位置を更新する。muを保持して呼ぶこと。
func (s *Store) rebuildIndexLocked(from int) {
	for i := from; i < len(s.items); i++ {
		s.index[s.items[i].ID] = i
	}
}
