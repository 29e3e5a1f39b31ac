package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// Client инкапсулирует HTTP-взаимодействие с Bot API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент Bot API для указанного токена.
func NewClient(token string) *Client {
	return NewClientWithBase(defaultAPIBase, token)
}

// NewClientWithBase создаёт клиент с нестандартным адресом API (для тестов).
func NewClientWithBase(apiBase, token string) *Client {
	return &Client{
		baseURL: fmt.Sprintf("%s/bot%s", apiBase, token),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type apiReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var reply apiReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("telegram api: %s", reply.Description)
	}

	return nil
}

type sendMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage отправляет текстовое сообщение, опционально с inline-клавиатурой.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) error {
	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: markup,
	})
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
}

// AnswerCallback подтверждает обработку нажатия кнопки, снимая «часики» в клиенте.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: callbackID})
}
