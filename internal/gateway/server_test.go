package gateway

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"
	gatewaydb "github.com/yukihira/bunka/internal/gateway/db"
	"github.com/yukihira/bunka/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTSecret はテスト用のJWT署名秘密鍵。
const testJWTSecret = "test-secret-key"

// newTestServer はテスト用のGatewayサーバーを生成する。
// インメモリSQLiteを使用し、通知サービスURLはダミー値を設定する。
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithNotificationURL(t, "http://localhost:19004")
}

// newTestServerWithBackend はモック通知サービスを持つテスト用Gatewayサーバーを生成する。
// backendHandlerで指定したハンドラが通知サービスとして応答する。
func newTestServerWithBackend(t *testing.T, backendHandler http.HandlerFunc) (*Server, *httptest.Server) {
	t.Helper()

	backend := httptest.NewServer(backendHandler)
	t.Cleanup(backend.Close)

	return newTestServerWithNotificationURL(t, backend.URL), backend
}

func newTestServerWithNotificationURL(t *testing.T, notificationURL string) *Server {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDB接続に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	router := gin.New()
	s := &Server{
		router:          router,
		port:            "0",
		queries:         gatewaydb.New(sqlDB),
		db:              sqlDB,
		jwtSecret:       testJWTSecret,
		notificationURL: notificationURL,
		streamClient:    &http.Client{},
	}
	s.setupRoutes()

	return s
}

// generateTestJWT はテスト用のJWTトークンを生成する。
func generateTestJWT(t *testing.T, userID, email string) string {
	t.Helper()

	token, err := middleware.GenerateJWT(testJWTSecret, userID, email)
	if err != nil {
		t.Fatalf("テスト用JWT生成に失敗: %v", err)
	}
	return token
}

// seedUser はテスト用のユーザーレコードをDBに挿入する。
func seedUser(t *testing.T, s *Server, id, provider, providerUserID, email, displayName string) {
	t.Helper()

	ctx := context.Background()
	if err := s.queries.CreateUser(ctx, gatewaydb.CreateUserParams{
		ID:             id,
		Provider:       provider,
		ProviderUserID: providerUserID,
		Email:          email,
		DisplayName:    displayName,
		AvatarUrl:      "",
	}); err != nil {
		t.Fatalf("テスト用ユーザー挿入に失敗: %v", err)
	}
}

// TestHandleDevToken は開発用トークン発行ハンドラのテスト。
func TestHandleDevToken(t *testing.T) {
	t.Parallel()

	t.Run("新規ユーザーの場合にトークンを発行する", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/dev-token", nil)
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		var result map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["token"] == "" {
			t.Error("tokenフィールドが空")
		}
		if result["user_id"] == "" {
			t.Error("user_idフィールドが空")
		}

		// 発行されたトークンが有効であることを検証する
		token := result["token"]
		verifyRouter := gin.New()
		verifyRouter.Use(middleware.JWTAuth(testJWTSecret))
		verifyRouter.GET("/verify", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"user_id": middleware.GetUserID(c)})
		})

		w2 := httptest.NewRecorder()
		req2 := httptest.NewRequest(http.MethodGet, "/verify", nil)
		req2.Header.Set("Authorization", "Bearer "+token)
		verifyRouter.ServeHTTP(w2, req2)

		if w2.Code != http.StatusOK {
			t.Errorf("トークン検証ステータスコード: got %d, want %d", w2.Code, http.StatusOK)
		}
	})

	t.Run("既存ユーザーの場合に同じuser_idでトークンを発行する", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		seedUser(t, s, "existing-dev-user", "dev", "dev-user", "dev@localhost", "開発ユーザー")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/dev-token", nil)
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		var result map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["user_id"] != "existing-dev-user" {
			t.Errorf("user_id: got %q, want %q", result["user_id"], "existing-dev-user")
		}
		if result["token"] == "" {
			t.Error("tokenフィールドが空")
		}
	})
}

// TestHandleGetCurrentUser は認証済みユーザー情報取得ハンドラのテスト。
func TestHandleGetCurrentUser(t *testing.T) {
	t.Parallel()

	t.Run("認証済みユーザーの情報を返す", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		seedUser(t, s, "user-123", "dev", "dev-456", "test@example.com", "テストユーザー")

		token := generateTestJWT(t, "user-123", "test@example.com")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		var result map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["id"] != "user-123" {
			t.Errorf("id: got %q, want %q", result["id"], "user-123")
		}
		if result["email"] != "test@example.com" {
			t.Errorf("email: got %q, want %q", result["email"], "test@example.com")
		}
		if result["display_name"] != "テストユーザー" {
			t.Errorf("display_name: got %q, want %q", result["display_name"], "テストユーザー")
		}
	})

	t.Run("認証ヘッダーが無い場合は401を返す", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("無効なトークンの場合は401を返す", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("DBにユーザーが存在しない場合は404を返す", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		// ユーザーをDBに挿入せず、有効なトークンだけ発行する
		token := generateTestJWT(t, "nonexistent-user", "nobody@example.com")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestHandleProxy は通知サービスへのプロキシのテスト。
func TestHandleProxy(t *testing.T) {
	t.Parallel()

	t.Run("認証ヘッダーとユーザーIDがバックエンドへ転送される", func(t *testing.T) {
		t.Parallel()

		var gotAuth, gotUserID, gotPath string
		s, _ := newTestServerWithBackend(t, func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotUserID = r.Header.Get("X-User-ID")
			gotPath = r.URL.Path
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `[]`)
		})

		token := generateTestJWT(t, "user-1", "test@example.com")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		if gotAuth != "Bearer "+token {
			t.Errorf("Authorization: got %q, want Bearer付きトークン", gotAuth)
		}
		if gotUserID != "user-1" {
			t.Errorf("X-User-ID: got %q, want %q", gotUserID, "user-1")
		}
		if gotPath != "/api/v1/notifications" {
			t.Errorf("パス: got %q, want %q", gotPath, "/api/v1/notifications")
		}
	})

	t.Run("URLパラメータを含むパスが正しく組み立てられる", func(t *testing.T) {
		t.Parallel()

		var gotPath, gotMethod string
		s, _ := newTestServerWithBackend(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotMethod = r.Method
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"message":"ok"}`)
		})

		token := generateTestJWT(t, "user-1", "test@example.com")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/api/v1/notifications/notif-42/read", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		if gotPath != "/api/v1/notifications/notif-42/read" {
			t.Errorf("パス: got %q, want %q", gotPath, "/api/v1/notifications/notif-42/read")
		}
		if gotMethod != http.MethodPut {
			t.Errorf("メソッド: got %q, want %q", gotMethod, http.MethodPut)
		}
	})

	t.Run("バックエンドのエラーレスポンスがそのまま返される", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServerWithBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"通知一覧の取得に失敗しました"}`)
		})

		token := generateTestJWT(t, "user-1", "test@example.com")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusInternalServerError)
		}

		var result map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["error"] != "通知一覧の取得に失敗しました" {
			t.Errorf("error: got %q, バックエンドのメッセージが保持されるべき", result["error"])
		}
	})

	t.Run("バックエンドに接続できない場合は502を返す", func(t *testing.T) {
		t.Parallel()

		// ダミーURLのサーバー（接続先が存在しない）
		s := newTestServer(t)
		token := generateTestJWT(t, "user-1", "test@example.com")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusBadGateway {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadGateway)
		}
	})
}

// TestHandleProxyStream はSSEストリーム中継のテスト。
func TestHandleProxyStream(t *testing.T) {
	t.Parallel()

	t.Run("バックエンドのイベントが逐次中継される", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServerWithBackend(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v1/notifications/stream" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "event:notification\ndata:{\"id\":\"n1\"}\n\n")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})

		gatewaySrv := httptest.NewServer(s.router)
		t.Cleanup(gatewaySrv.Close)

		token := generateTestJWT(t, "user-1", "test@example.com")

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, gatewaySrv.URL+"/api/v1/notifications/stream", nil)
		if err != nil {
			t.Fatalf("リクエストの作成に失敗: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("ストリーム接続に失敗: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", resp.StatusCode, http.StatusOK)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
			t.Errorf("Content-Type: got %s, want text/event-stream", ct)
		}

		lines := make(chan string, 10)
		go func() {
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()

		var sawEvent, sawData bool
		timeout := time.After(3 * time.Second)
		for !(sawEvent && sawData) {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatal("イベントを受信する前にストリームが終了した")
				}
				if strings.HasPrefix(line, "event:") && strings.Contains(line, "notification") {
					sawEvent = true
				}
				if strings.HasPrefix(line, "data:") && strings.Contains(line, "n1") {
					sawData = true
				}
			case <-timeout:
				t.Fatal("イベントの中継がタイムアウトした")
			}
		}
	})

	t.Run("バックエンドが拒否した場合はそのステータスを返す", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServerWithBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"トークンが無効です"}`)
		})

		token := generateTestJWT(t, "user-1", "test@example.com")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/stream", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestHealthCheck はヘルスチェックエンドポイントのテスト。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}

	var result map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	if result["service"] != "gateway" {
		t.Errorf("service: got %q, want gateway", result["service"])
	}
}
