package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestGetJSON はGetJSONメソッドを検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にレスポンスをデシリアライズできること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("メソッド = %q, want %q", r.Method, http.MethodGet)
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"name":"bunka","count":3}`)
		}))
		t.Cleanup(server.Close)

		var result struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		}
		if err := New(server.URL).GetJSON(context.Background(), "/test", &result); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if result.Name != "bunka" {
			t.Errorf("Name = %q, want %q", result.Name, "bunka")
		}
		if result.Count != 3 {
			t.Errorf("Count = %d, want %d", result.Count, 3)
		}
	})

	t.Run("非2xxレスポンスでサーバーのエラーメッセージを保持したStatusErrorが返ること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"通知が見つかりません"}`)
		}))
		t.Cleanup(server.Close)

		err := New(server.URL).GetJSON(context.Background(), "/test", nil)
		if err == nil {
			t.Fatal("非2xxレスポンスでエラーを返すべき")
		}

		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("StatusError型であるべき: %T", err)
		}
		if statusErr.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusNotFound)
		}
		if statusErr.Message != "通知が見つかりません" {
			t.Errorf("Message = %q, want %q", statusErr.Message, "通知が見つかりません")
		}
	})

	t.Run("エラーボディが無い場合ステータステキストがメッセージになること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(server.Close)

		err := New(server.URL).GetJSON(context.Background(), "/test", nil)

		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("StatusError型であるべき: %T", err)
		}
		if statusErr.Message != http.StatusText(http.StatusBadGateway) {
			t.Errorf("Message = %q, want %q", statusErr.Message, http.StatusText(http.StatusBadGateway))
		}
	})
}

// TestNewWithToken はBearerトークンの付与を検証する。
func TestNewWithToken(t *testing.T) {
	t.Parallel()

	t.Run("AuthorizationヘッダーにBearerトークンが設定されること", func(t *testing.T) {
		t.Parallel()

		var capturedAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedAuth = r.Header.Get("Authorization")
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{}`)
		}))
		t.Cleanup(server.Close)

		client := NewWithToken(server.URL, "test-token-123")
		if err := client.GetJSON(context.Background(), "/test", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if capturedAuth != "Bearer test-token-123" {
			t.Errorf("Authorization = %q, want %q", capturedAuth, "Bearer test-token-123")
		}
	})

	t.Run("トークン未設定の場合Authorizationヘッダーが付かないこと", func(t *testing.T) {
		t.Parallel()

		var capturedAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedAuth = r.Header.Get("Authorization")
			fmt.Fprint(w, `{}`)
		}))
		t.Cleanup(server.Close)

		if err := New(server.URL).GetJSON(context.Background(), "/test", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if capturedAuth != "" {
			t.Errorf("Authorization = %q, want empty string", capturedAuth)
		}
	})
}

// TestPutJSON はPutJSONメソッドを検証する。
func TestPutJSON(t *testing.T) {
	t.Parallel()

	t.Run("ボディなしのPUTリクエストを送信できること", func(t *testing.T) {
		t.Parallel()

		var capturedMethod string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedMethod = r.Method
			fmt.Fprint(w, `{"message":"ok"}`)
		}))
		t.Cleanup(server.Close)

		if err := New(server.URL).PutJSON(context.Background(), "/test", nil, nil); err != nil {
			t.Fatalf("PutJSON()でエラーが発生: %v", err)
		}
		if capturedMethod != http.MethodPut {
			t.Errorf("メソッド = %q, want %q", capturedMethod, http.MethodPut)
		}
	})
}

// TestWithUserID はユーザーIDのヘッダー伝播を検証する。
func TestWithUserID(t *testing.T) {
	t.Parallel()

	t.Run("コンテキストのユーザーIDがX-User-IDヘッダーに設定されること", func(t *testing.T) {
		t.Parallel()

		var capturedUserID string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedUserID = r.Header.Get("X-User-ID")
			fmt.Fprint(w, `{}`)
		}))
		t.Cleanup(server.Close)

		ctx := WithUserID(context.Background(), "user-propagate")
		if err := New(server.URL).GetJSON(ctx, "/test", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if capturedUserID != "user-propagate" {
			t.Errorf("X-User-ID = %q, want %q", capturedUserID, "user-propagate")
		}
	})
}
