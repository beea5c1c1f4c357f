// Package telegram implements the Bot API messaging client the coordinator
// uses for chat notifications.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hxnx/chorus/internal/call"
)

const defaultAPIBase = "https://api.telegram.org"

type Messenger struct {
	Token      string
	APIBase    string
	HTTPClient *http.Client

	log *logrus.Entry
}

func NewMessenger(token string) *Messenger {
	return &Messenger{
		Token:      token,
		APIBase:    defaultAPIBase,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		log:        logrus.WithField("component", "telegram"),
	}
}

func (m *Messenger) SendMessage(ctx context.Context, chatID int64, text string) (call.MessageRef, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", text)
	params.Set("disable_web_page_preview", "true")

	result, err := m.invoke(ctx, "sendMessage", params)
	if err != nil {
		return call.MessageRef{}, err
	}
	return messageRef(chatID, result), nil
}

func (m *Messenger) SendPhoto(ctx context.Context, chatID int64, photo, caption string) (call.MessageRef, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("photo", photo)
	params.Set("caption", caption)

	result, err := m.invoke(ctx, "sendPhoto", params)
	if err != nil {
		return call.MessageRef{}, err
	}
	return messageRef(chatID, result), nil
}

func (m *Messenger) EditMessage(ctx context.Context, ref call.MessageRef, text string) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(ref.ChatID, 10))
	params.Set("message_id", strconv.FormatInt(ref.MessageID, 10))
	params.Set("text", text)

	_, err := m.invoke(ctx, "editMessageText", params)
	return err
}

func (m *Messenger) DeleteMessage(ctx context.Context, ref call.MessageRef) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(ref.ChatID, 10))
	params.Set("message_id", strconv.FormatInt(ref.MessageID, 10))

	_, err := m.invoke(ctx, "deleteMessage", params)
	return err
}

func (m *Messenger) invoke(ctx context.Context, method string, params url.Values) (*apiMessage, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", m.APIBase, m.Token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}

	var payload apiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("telegram %s: status %d: %w", method, resp.StatusCode, err)
	}

	if !payload.OK {
		if payload.Parameters != nil && payload.Parameters.RetryAfter > 0 {
			return nil, &call.FloodWait{RetryAfter: time.Duration(payload.Parameters.RetryAfter) * time.Second}
		}
		return nil, fmt.Errorf("telegram %s: %s (code %d)", method, payload.Description, payload.ErrorCode)
	}

	var msg apiMessage
	if len(payload.Result) > 0 && payload.Result[0] == '{' {
		if err := json.Unmarshal(payload.Result, &msg); err != nil {
			m.log.Warnf("%s: unexpected result payload: %v", method, err)
		}
	}
	return &msg, nil
}

func messageRef(chatID int64, msg *apiMessage) call.MessageRef {
	ref := call.MessageRef{ChatID: chatID, MessageID: msg.MessageID}
	if msg.Chat.ID != 0 {
		ref.ChatID = msg.Chat.ID
	}
	return ref
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type apiMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}
