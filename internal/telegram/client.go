// Package telegram is a small Bot API client over net/http: the handful of
// methods the bridge needs, a Markdown-first send with plain-text fallback,
// and bounded retry on transport failures.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agent-command/tgbridge/internal/config"
	"github.com/agent-command/tgbridge/internal/logger"
)

// MaxMessage is the Bot API limit for message text.
const MaxMessage = 4096

// TransportError is a Bot API call that failed after retries.
type TransportError struct {
	Method      string
	Status      int
	Description string
	Err         error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("telegram %s: %v", e.Method, e.Err)
	case e.Description != "":
		return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Status, e.Description)
	default:
		return fmt.Sprintf("telegram %s: status %d", e.Method, e.Status)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsBadRequest reports a 400 from the API, which is never retried.
func IsBadRequest(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Status == http.StatusBadRequest
}

type Client struct {
	baseURL string
	token   string
	chatID  string
	http    *http.Client
	backoff []time.Duration
}

func NewClient(cfg *config.TelegramConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		http:    &http.Client{Timeout: config.Millis(cfg.RequestTimeout) + 30*time.Second},
		backoff: config.Backoff(cfg.RetryBackoffMs),
	}
}

func (c *Client) ChatID() string { return c.chatID }

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

// retryable is a network error or a server-side status.
func retryable(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	return te.Err != nil || te.Status == http.StatusTooManyRequests || te.Status >= 500
}

// do runs one request builder with bounded retry. newReq is called per attempt
// so bodies can be re-read.
func (c *Client) do(ctx context.Context, method string, newReq func() (*http.Request, error), out any) error {
	var lastErr error
	backoff := c.backoff
	if len(backoff) == 0 {
		backoff = []time.Duration{0}
	}
	for _, delay := range backoff {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = c.once(method, newReq, out)
		if lastErr == nil || !retryable(lastErr) || ctx.Err() != nil {
			return lastErr
		}
		logger.Debugf("telegram: %s failed, retrying: %v", method, lastErr)
	}
	return lastErr
}

func (c *Client) once(method string, newReq func() (*http.Request, error), out any) error {
	req, err := newReq()
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Method: method, Status: resp.StatusCode, Err: err}
	}
	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &TransportError{Method: method, Status: resp.StatusCode}
		}
		return &TransportError{Method: method, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK || !api.OK {
		status := resp.StatusCode
		if status == http.StatusOK && api.ErrorCode != 0 {
			status = api.ErrorCode
		}
		return &TransportError{Method: method, Status: status, Description: api.Description}
	}
	if out != nil && len(api.Result) > 0 {
		if err := json.Unmarshal(api.Result, out); err != nil {
			return &TransportError{Method: method, Status: resp.StatusCode, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

// call POSTs a JSON payload.
func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.do(ctx, method, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

type SendOptions struct {
	Markup any
	Silent bool
}

type sendPayload struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode,omitempty"`
	ReplyMarkup         any    `json:"reply_markup,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

// Send posts text as Markdown, retrying as plain text when the API rejects
// the markup. Text is trimmed and cut to MaxMessage; empty text becomes
// "(empty)". It returns the message id.
func (c *Client) Send(ctx context.Context, text string, opts SendOptions) (int, error) {
	text = truncate(strings.TrimSpace(text), MaxMessage)
	if text == "" {
		text = "(empty)"
	}
	p := sendPayload{
		ChatID:              c.chatID,
		Text:                text,
		ParseMode:           "Markdown",
		ReplyMarkup:         opts.Markup,
		DisableNotification: opts.Silent,
	}
	var msg Message
	err := c.call(ctx, "sendMessage", p, &msg)
	if IsBadRequest(err) {
		logger.Debugf("telegram: markdown rejected, sending plain: %v", err)
		p.ParseMode = ""
		err = c.call(ctx, "sendMessage", p, &msg)
	}
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// GetUpdates long-polls for updates from offset.
func (c *Client) GetUpdates(ctx context.Context, offset, timeoutSec int) ([]Update, error) {
	var updates []Update
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SkipBacklog acknowledges everything already queued at the API and returns
// the next offset to poll from.
func (c *Client) SkipBacklog(ctx context.Context) (int, error) {
	updates, err := c.GetUpdates(ctx, -1, 0)
	if err != nil {
		return 0, err
	}
	return NextOffset(0, updates), nil
}

// NextOffset is one past the highest update id seen.
func NextOffset(offset int, updates []Update) int {
	for _, u := range updates {
		if u.UpdateID+1 > offset {
			offset = u.UpdateID + 1
		}
	}
	return offset
}

// AnswerCallback dismisses the button spinner, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, id, text string) error {
	payload := map[string]any{"callback_query_id": id}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

// RemoveKeyboard strips the inline keyboard from a sent message.
func (c *Client) RemoveKeyboard(ctx context.Context, messageID int) error {
	return c.call(ctx, "editMessageReplyMarkup", map[string]any{
		"chat_id":      c.chatID,
		"message_id":   messageID,
		"reply_markup": InlineKeyboard{InlineKeyboard: [][]Button{}},
	}, nil)
}

func (c *Client) SetCommands(ctx context.Context, cmds []BotCommand) error {
	return c.call(ctx, "setMyCommands", map[string]any{"commands": cmds}, nil)
}

// SendPhoto uploads an image. Images over 1280px on either side are sent as
// documents so Telegram does not recompress them.
func (c *Client) SendPhoto(ctx context.Context, path, caption string) (int, error) {
	w, h := ImageDimensions(path)
	if w > 1280 || h > 1280 {
		return c.SendDocument(ctx, path, caption)
	}
	return c.upload(ctx, "sendPhoto", "photo", path, caption)
}

func (c *Client) SendDocument(ctx context.Context, path, caption string) (int, error) {
	return c.upload(ctx, "sendDocument", "document", path, caption)
}

func (c *Client) upload(ctx context.Context, method, field, path, caption string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	caption = truncate(caption, 1024)

	send := func(markdown bool) (int, error) {
		var msg Message
		err := c.do(ctx, method, func() (*http.Request, error) {
			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			mw.WriteField("chat_id", c.chatID)
			if caption != "" {
				mw.WriteField("caption", caption)
				if markdown {
					mw.WriteField("parse_mode", "Markdown")
				}
			}
			fw, err := mw.CreateFormFile(field, filepath.Base(path))
			if err != nil {
				return nil, err
			}
			if _, err := fw.Write(data); err != nil {
				return nil, err
			}
			if err := mw.Close(); err != nil {
				return nil, err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), &body)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", mw.FormDataContentType())
			return req, nil
		}, &msg)
		return msg.MessageID, err
	}

	id, err := send(true)
	if caption != "" && IsBadRequest(err) {
		id, err = send(false)
	}
	return id, err
}

// DownloadFile fetches a file by id into dest.
func (c *Client) DownloadFile(ctx context.Context, fileID, dest string) error {
	var f fileResult
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return err
	}
	if f.FilePath == "" {
		return &TransportError{Method: "getFile", Err: errors.New("no file_path in response")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/file/bot"+c.token+"/"+f.FilePath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Method: "download", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Method: "download", Status: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// WaitReply polls for the first text message in the chat dated at or after
// since. It gives up after timeout and returns ok=false.
func (c *Client) WaitReply(ctx context.Context, since time.Time, timeout time.Duration) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	offset := 0
	for {
		updates, err := c.GetUpdates(ctx, offset, 10)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, nil
			}
			logger.Debugf("telegram: wait reply: %v", err)
			select {
			case <-ctx.Done():
				return "", false, nil
			case <-time.After(2 * time.Second):
			}
			continue
		}
		offset = NextOffset(offset, updates)
		for _, u := range updates {
			m := u.Message
			if m == nil || m.Text == "" || strconv.FormatInt(m.Chat.ID, 10) != c.chatID {
				continue
			}
			if m.Date >= since.Unix() {
				return strings.TrimSpace(m.Text), true, nil
			}
		}
		if ctx.Err() != nil {
			return "", false, nil
		}
	}
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
