package notifyclient

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// State はChannelの接続状態を表す。
type State string

const (
	// StateIdle は未接続の初期状態。Close()後もこの状態に戻る。
	StateIdle State = "idle"
	// StateConnecting は初回接続を試行中の状態。
	StateConnecting State = "connecting"
	// StateConnected は接続が確立され、イベントを受信できる状態。
	StateConnected State = "connected"
	// StateReconnecting は切断後に再接続を試行中の状態。
	StateReconnecting State = "reconnecting"
	// StateDisconnected は再接続の試行上限を超えた終端状態。
	// 明示的にOpen()し直すまで回復しない。
	StateDisconnected State = "disconnected"
)

// eventNameNotification は通知サービスがSSEストリームで送出するイベント名。
const eventNameNotification = "notification"

// maxReconnectAttempts は1回の切断に対する再接続の試行上限。
const maxReconnectAttempts = 5

// reconnectDelay は再接続の試行間隔。ジッターは付けない。
// テストから短縮できるよう変数にしている。
var reconnectDelay = 1000 * time.Millisecond

// Subscription はChannelのイベント購読を表すハンドル。
// Cancelは何度呼んでも1回だけ解除される。
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel は購読を解除する。解除後のイベントはハンドラに届かない。
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Channel は通知サービスのSSEエンドポイントへの常時接続を維持する。
// 認証にはOpen時に渡されたBearerトークンを使用する。
// 切断時はreconnectDelay間隔でmaxReconnectAttempts回まで自動再接続する。
type Channel struct {
	// streamURL はSSEストリームエンドポイントの完全なURL。
	streamURL string
	// httpClient はストリーム接続用のHTTPクライアント。
	// 終わりのないレスポンスを読み続けるため全体タイムアウトは設定しない。
	httpClient *http.Client

	// mu は以下の可変フィールドを保護するミューテックス。
	mu sync.Mutex
	// state は現在の接続状態。
	state State
	// generation はOpen/Closeのたびに増える世代番号。
	// 古い接続ゴルーチンや遅延した再接続タイマーの発火を無効化する。
	generation int
	// cancel は接続ゴルーチンを停止するキャンセル関数。
	cancel context.CancelFunc
	// handler は購読中のイベントハンドラ。未購読ならnil。
	handler func(Notification)
	// subID は購読の識別番号。古い購読のCancelが新しい購読を解除しないための印。
	subID int
	// onError は接続エラーの通知先。Open()自体は失敗を返さない。
	onError func(error)
}

// NewChannel は指定されたベースURLの通知サービスに接続するChannelを生成する。
func NewChannel(baseURL string) *Channel {
	return &Channel{
		streamURL:  baseURL + "/api/v1/notifications/stream",
		httpClient: &http.Client{},
		state:      StateIdle,
	}
}

// Subscribe はイベントハンドラを登録し、購読ハンドルを返す。
// ハンドラは接続ゴルーチンから呼ばれる。登録できる購読は1つで、
// 既存の購読は新しい購読で置き換えられる。
func (ch *Channel) Subscribe(handler func(Notification)) *Subscription {
	ch.mu.Lock()
	ch.handler = handler
	ch.subID++
	id := ch.subID
	ch.mu.Unlock()

	return &Subscription{cancel: func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		// 別の購読に置き換わっていたら何もしない
		if ch.subID == id {
			ch.handler = nil
		}
	}}
}

// OnConnectionError は接続エラー発生時に呼ばれるコールバックを登録する。
// 接続ゴルーチンから呼ばれる。
func (ch *Channel) OnConnectionError(f func(error)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onError = f
}

// State は現在の接続状態を返す。
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Open は指定されたBearerトークンで接続を確立する。
// 接続の失敗はエラーとして返さず、OnConnectionErrorで登録された
// コールバックへ通知した上で自動再接続に入る。
// 既に接続中の場合は何もしない。
func (ch *Channel) Open(token string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.state == StateConnecting || ch.state == StateConnected || ch.state == StateReconnecting {
		return
	}

	ch.generation++
	gen := ch.generation
	ch.state = StateConnecting

	ctx, cancel := context.WithCancel(context.Background())
	ch.cancel = cancel

	go ch.run(ctx, token, gen)
}

// Close は接続を解体する。イベントハンドラの解除を転送の切断より先に行い、
// 解体済みのStoreへ古いコールバックが飛ばないことを保証する。
// 進行中の再接続待ちも中断され、遅延したタイマー発火は世代番号で無効化される。
func (ch *Channel) Close() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	// 順序が重要: ハンドラ解除 → 転送切断
	ch.handler = nil
	ch.generation++
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	ch.state = StateIdle
}

// run は接続と再接続のループ。接続ゴルーチンとして動く。
func (ch *Channel) run(ctx context.Context, token string, gen int) {
	attempts := 0
	for {
		connected, err := ch.consume(ctx, token, gen)
		if ctx.Err() != nil {
			// Close()による意図的な切断。状態はClose()が設定済み。
			return
		}

		// 受信に成功した接続だった場合は試行回数を数え直す
		if connected {
			attempts = 0
		}

		ch.reportError(err)

		attempts++
		if attempts > maxReconnectAttempts {
			ch.transition(gen, StateDisconnected)
			return
		}

		if !ch.transition(gen, StateReconnecting) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// consume は1回の接続を確立し、切断されるまでイベントを読み続ける。
// 接続が確立された（イベント受信可能になった）場合はconnected=trueを返す。
func (ch *Channel) consume(ctx context.Context, token string, gen int) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ch.streamURL, nil)
	if err != nil {
		return false, fmt.Errorf("ストリームリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := ch.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("ストリーム接続に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("ストリーム接続が拒否された: status=%d", resp.StatusCode)
	}

	if !ch.transition(gen, StateConnected) {
		return false, nil
	}

	// SSEフレームの逐次解析。イベントは空行で区切られる。
	// コメント行（":"で始まる）はハートビートとして無視する。
	var eventName string
	var data strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if eventName == eventNameNotification && data.Len() > 0 {
				ch.dispatch(gen, data.String())
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// ハートビート
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		default:
			// id: やretry: フィールドは使用しない
		}
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("ストリームが切断された: %w", err)
	}
	return true, fmt.Errorf("ストリームがサーバー側で終了した")
}

// dispatch はイベントペイロードをデコードして購読ハンドラへ渡す。
// ペイロード不正は記録した上で破棄し、接続は維持する。
func (ch *Channel) dispatch(gen int, payload string) {
	n, err := decodePayload([]byte(payload))
	if err != nil {
		log.Printf("[Channel] 不正な通知ペイロードを破棄: %v", err)
		return
	}

	ch.mu.Lock()
	handler := ch.handler
	stale := ch.generation != gen
	ch.mu.Unlock()

	if stale || handler == nil {
		return
	}
	handler(n)
}

// transition は世代が一致する場合のみ状態を遷移させる。
// 古い接続ゴルーチンからの遷移は無効化され、falseを返す。
func (ch *Channel) transition(gen int, to State) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.generation != gen {
		return false
	}
	ch.state = to
	return true
}

// reportError は接続エラーをコールバックへ通知する。
func (ch *Channel) reportError(err error) {
	if err == nil {
		return
	}
	ch.mu.Lock()
	onError := ch.onError
	ch.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}
