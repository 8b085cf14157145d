package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegram_Send(t *testing.T) {
	var got map[string]interface{}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{
		Token:   "TOKEN",
		BaseURL: srv.URL + "/",
		Chats:   map[string]string{"home": "-100123"},
	}, time.Second)

	require.NoError(t, tg.Send(context.Background(), "home", "動体を検知しました"))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "-100123", got["chat_id"])
	assert.Equal(t, "動体を検知しました", got["text"])

	// 別名でなければチャットIDとして扱う
	require.NoError(t, tg.Send(context.Background(), "42", "x"))
	assert.Equal(t, "42", got["chat_id"])
}

func TestTelegram_SendErrors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
	}{
		{"HTTPエラー", http.StatusUnauthorized, `{"ok":false,"description":"Unauthorized"}`},
		{"okがfalse", http.StatusOK, `{"ok":false,"description":"chat not found"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			tg := NewTelegram(TelegramConfig{Token: "T", BaseURL: srv.URL}, time.Second)
			assert.Error(t, tg.Send(context.Background(), "1", "x"))
		})
	}

	tg := NewTelegram(TelegramConfig{Token: "T"}, time.Second)
	assert.ErrorIs(t, tg.Send(context.Background(), "", "x"), ErrUnknownRecipient)
}
