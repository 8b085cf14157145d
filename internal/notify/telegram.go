package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Telegram は Bot API の sendMessage でメッセージを送る Notifier
type Telegram struct {
	token   string
	baseURL string
	chats   map[string]string
	client  *http.Client
}

// NewTelegram は Telegram を作成する
func NewTelegram(cfg TelegramConfig, timeout time.Duration) *Telegram {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Telegram{
		token:   cfg.Token,
		baseURL: strings.TrimRight(baseURL, "/"),
		chats:   cfg.Chats,
		client:  &http.Client{Timeout: timeout},
	}
}

// resolveChatID は別名をチャットIDへ解決する
// 別名に該当しなければチャットIDそのものとみなす
func (t *Telegram) resolveChatID(chat string) (string, error) {
	if id, ok := t.chats[chat]; ok {
		return id, nil
	}
	if chat == "" {
		return "", fmt.Errorf("%w: チャットが指定されていません", ErrUnknownRecipient)
	}
	return chat, nil
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, recipient, message string) error {
	chatID, err := t.resolveChatID(recipient)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     message,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("ペイロードの生成に失敗: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("Telegramへの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Telegram APIエラー (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r telegramResponse
	if err := json.Unmarshal(body, &r); err == nil && !r.OK {
		return fmt.Errorf("Telegram APIエラー: %s", r.Description)
	}
	return nil
}
