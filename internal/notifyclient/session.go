package notifyclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/yukihira/bunka/pkg/httpclient"
	"github.com/yukihira/bunka/pkg/middleware"
)

// credentialCheckInterval はトークン有効期限の定期チェックの間隔。
var credentialCheckInterval = 30 * time.Second

// Session は1回のログインセッションにおける通知状態の所有者。
// 認証トークンからユーザーIDを決定し、StoreとChannelのライフサイクルを束ねる。
// ログインのたびに新しいSessionを生成し、ログアウト時はClose()で解体する。
// Sessionをユーザー間で使い回してはならない。
type Session struct {
	// api はスナップショット取得・既読化に使うBearerトークン付きクライアント。
	api *httpclient.Client
	// channel は通知サービスへのSSE常時接続。
	channel *Channel
	// store はこのセッションが所有する通知リスト。
	store *Store
	// userID はトークンから決定された所有者のユーザーID。
	userID string
	// token は接続と各リクエストの認証に使うBearerトークン。
	token string
	// expiresAt はトークンの有効期限。クレームに無い場合はゼロ値。
	expiresAt time.Time

	// mu は以下の可変フィールドを保護するミューテックス。
	mu sync.Mutex
	// snapshotLoaded はスナップショットが適用済みかどうか。
	// 適用前に届いたプッシュイベントはpendingに溜める。
	snapshotLoaded bool
	// pending はスナップショット適用前に届いたプッシュイベントのバッファ。
	// スナップショット適用直後にApplyPushを通して再生される。
	pending []Notification
	// closed はClose()済みかどうか。
	closed bool
	// sub はChannelの購読ハンドル。
	sub *Subscription
	// cancelTick は有効期限チェックのゴルーチンを停止するキャンセル関数。
	cancelTick context.CancelFunc

	// onUpdate はStoreの内容が変化したときに呼ばれるコールバック。
	onUpdate func()
	// onError は接続エラーや認証失効を通知するコールバック。
	onError func(error)
}

// NewSession は認証トークンから新しいセッションを生成する。
// トークンが空、またはデコードできない場合はErrAuthRequiredを返す。
// この時点ではまだ接続しない。Start()で接続を開始する。
func NewSession(baseURL, token string) (*Session, error) {
	if token == "" {
		return nil, ErrAuthRequired
	}

	claims, err := middleware.DecodeClaims(token)
	if err != nil || claims.UserID == "" {
		return nil, fmt.Errorf("%w: トークンからユーザーIDを決定できない", ErrAuthRequired)
	}

	s := &Session{
		api:     httpclient.NewWithToken(baseURL, token),
		channel: NewChannel(baseURL),
		store:   NewStore(claims.UserID),
		userID:  claims.UserID,
		token:   token,
	}
	if claims.ExpiresAt != nil {
		s.expiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// OnUpdate はStoreの内容が変化したときに呼ばれるコールバックを登録する。
// Start()の前に登録すること。
func (s *Session) OnUpdate(f func()) {
	s.onUpdate = f
}

// OnError は接続エラーや認証失効の通知先を登録する。
// Start()の前に登録すること。接続エラーは自動再接続で回復が試みられるため、
// 利用側での再試行は不要。ErrAuthRequiredを受け取った場合は再ログインを促すこと。
func (s *Session) OnError(f func(error)) {
	s.onError = f
}

// Start は接続を開始し、スナップショットをStoreに適用する。
//
// チャネルを開いてからスナップショットを取得するため、スナップショットの
// 応答より先にプッシュイベントが届きうる。その場合イベントはバッファされ、
// スナップショット適用直後に同じマージ処理（ApplyPush）で再生される。
// 重複はIDで排除されるため、取りこぼしも二重計上も起きない。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	if !s.expiresAt.IsZero() && time.Now().After(s.expiresAt) {
		return ErrAuthRequired
	}

	s.sub = s.channel.Subscribe(s.handlePush)
	s.channel.OnConnectionError(func(err error) {
		log.Printf("[Session] 接続エラー（自動再接続中）: %v", err)
		if s.onError != nil {
			s.onError(err)
		}
	})
	s.channel.Open(s.token)

	var wire []wireNotification
	if err := s.api.GetJSON(ctx, "/api/v1/notifications", &wire); err != nil {
		// スナップショットが無いままではセッションを開始できない
		s.sub.Cancel()
		s.channel.Close()
		return s.mapError("スナップショットの取得に失敗", err)
	}

	list := make([]Notification, 0, len(wire))
	for _, w := range wire {
		n, err := decodeWire(w)
		if err != nil {
			log.Printf("[Session] 不正なスナップショットエントリを破棄: %v", err)
			continue
		}
		list = append(list, n)
	}

	s.mu.Lock()
	s.store.LoadSnapshot(list)
	for _, p := range s.pending {
		s.store.ApplyPush(p)
	}
	s.pending = nil
	s.snapshotLoaded = true
	s.mu.Unlock()

	s.notifyUpdate()
	s.startCredentialCheck()
	return nil
}

// MarkAsRead は通知をサーバー側で既読化し、成功した場合のみローカルに反映する。
// サーバーが受理しなかった状態を画面に出さないため、楽観的更新は行わない。
// 失敗時はローカル状態を変更せずエラーを返す。自動では再試行しない。
func (s *Session) MarkAsRead(ctx context.Context, id string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	if s.token == "" || (!s.expiresAt.IsZero() && time.Now().After(s.expiresAt)) {
		return ErrAuthRequired
	}

	if err := s.api.PutJSON(ctx, "/api/v1/notifications/"+id+"/read", nil, nil); err != nil {
		return s.mapError("通知の既読化に失敗", err)
	}

	if s.store.MarkRead(id) {
		s.notifyUpdate()
	}
	return nil
}

// Store はこのセッションの通知リストを返す。UIはここから読み取る。
func (s *Session) Store() *Store {
	return s.store
}

// UserID はこのセッションの所有者のユーザーIDを返す。
func (s *Session) UserID() string {
	return s.userID
}

// ChannelState はプッシュ接続の現在の状態を返す。
func (s *Session) ChannelState() State {
	return s.channel.State()
}

// Close はセッションを解体する。複数回呼んでも安全。
//
// 解体順序は固定: 購読解除 → 転送切断 → Storeのクリア。
// 購読解除が先に完了するため、切断処理中のイベントが
// クリア済みのStoreに適用されることはない。
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	cancelTick := s.cancelTick
	s.pending = nil
	s.mu.Unlock()

	if cancelTick != nil {
		cancelTick()
	}
	if sub != nil {
		sub.Cancel()
	}
	s.channel.Close()
	s.store.Clear()
}

// handlePush はChannelから届いたプッシュイベントを処理する。
// スナップショット適用前はバッファし、適用後はStoreへ直接マージする。
func (s *Session) handlePush(n Notification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.snapshotLoaded {
		s.pending = append(s.pending, n)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.store.ApplyPush(n) {
		s.notifyUpdate()
	}
}

// startCredentialCheck はトークン有効期限の定期チェックを開始する。
// チェックのゴルーチンはセッションごとに1つだけ存在し、Close()で停止する。
// 失効を検出した場合はセッションを解体してErrAuthRequiredを通知する。
func (s *Session) startCredentialCheck() {
	if s.expiresAt.IsZero() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelTick = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(credentialCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Now().After(s.expiresAt) {
					log.Printf("[Session] トークンが失効したためセッションを終了します")
					s.Close()
					if s.onError != nil {
						s.onError(ErrAuthRequired)
					}
					return
				}
			}
		}
	}()
}

// mapError はHTTPエラーをセッションのエラー分類に変換する。
// 401はErrAuthRequiredに割り当て、それ以外はサーバーのメッセージを保持したまま包む。
func (s *Session) mapError(prefix string, err error) error {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", prefix, ErrAuthRequired)
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

// notifyUpdate は更新コールバックを呼び出す。
func (s *Session) notifyUpdate() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}
