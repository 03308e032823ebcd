package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voicebox/pkg/domain"
)

const telegramAPIBase = "https://api.telegram.org"

// AdminCommand is a decision issued from the admin chat, parsed from an
// inline-keyboard callback. Exactly one of the fields groups is set:
// TrustAction+SenderID for verify/block, Nightlight for timer commands.
type AdminCommand struct {
	CallbackID  string
	TrustAction domain.TrustAction
	SenderID    string
	Nightlight  string
}

// TelegramUpdate is the parsed form of one Telegram webhook update. At most
// one of Inbound and Command is set.
type TelegramUpdate struct {
	Inbound *domain.Inbound
	Command *AdminCommand
}

type telegramEnvelope struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Date int64 `json:"date"`
		From struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			Username  string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text  string `json:"text"`
		Voice *struct {
			FileID string `json:"file_id"`
		} `json:"voice"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

// ParseTelegramUpdate turns a webhook body into either a canonical inbound
// message or an admin command. Updates carrying neither a usable message nor
// a recognized callback return an empty update, not an error.
func ParseTelegramUpdate(raw []byte) (TelegramUpdate, error) {
	var env telegramEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return TelegramUpdate{}, fmt.Errorf("decode telegram update: %w", err)
	}
	if cb := env.CallbackQuery; cb != nil {
		cmd, ok := parseAdminCommand(cb.ID, cb.Data)
		if !ok {
			return TelegramUpdate{}, nil
		}
		return TelegramUpdate{Command: &cmd}, nil
	}
	if msg := env.Message; msg != nil {
		inb := domain.Inbound{
			Platform:    domain.PlatformTelegram,
			SenderID:    strconv.FormatInt(msg.From.ID, 10),
			SenderName:  telegramDisplayName(msg.From.FirstName, msg.From.LastName, msg.From.Username),
			ChatID:      strconv.FormatInt(msg.Chat.ID, 10),
			ReceivedAt:  time.Unix(msg.Date, 0).UTC(),
			RawEnvelope: raw,
		}
		if msg.Date <= 0 {
			inb.ReceivedAt = time.Now().UTC()
		}
		switch {
		case msg.Voice != nil && msg.Voice.FileID != "":
			inb.Type = domain.TypeAudio
			inb.MediaRef = msg.Voice.FileID
		case msg.Text != "":
			inb.Type = domain.TypeText
			inb.TextBody = msg.Text
		default:
			return TelegramUpdate{}, nil
		}
		return TelegramUpdate{Inbound: &inb}, nil
	}
	return TelegramUpdate{}, nil
}

func parseAdminCommand(callbackID, data string) (AdminCommand, bool) {
	verb, arg, ok := strings.Cut(strings.TrimSpace(data), ":")
	if !ok || arg == "" {
		return AdminCommand{}, false
	}
	cmd := AdminCommand{CallbackID: callbackID}
	switch verb {
	case "verify", "block":
		action, ok := domain.ParseTrustAction(verb)
		if !ok {
			return AdminCommand{}, false
		}
		cmd.TrustAction = action
		cmd.SenderID = arg
	case "nightlight":
		cmd.Nightlight = arg
	default:
		return AdminCommand{}, false
	}
	return cmd, true
}

func telegramDisplayName(first, last, username string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name != "" {
		return name
	}
	return username
}

// TelegramClient calls the Telegram Bot API.
type TelegramClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewTelegramClient constructs a bot API client. baseURL is overridable for
// tests.
func NewTelegramClient(token, baseURL string) *TelegramClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = telegramAPIBase
	}
	return &TelegramClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// SendText pushes a plain message to a chat.
func (c *TelegramClient) SendText(ctx context.Context, chatID, text string) error {
	payload := map[string]any{"chat_id": chatID, "text": text}
	return c.call(ctx, "sendMessage", payload, nil)
}

// SendApprovalPrompt posts the admin prompt with inline verify/block buttons
// for the given sender.
func (c *TelegramClient) SendApprovalPrompt(ctx context.Context, chatID, text, senderID string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
		"reply_markup": map[string]any{
			"inline_keyboard": [][]map[string]string{{
				{"text": "Verify", "callback_data": "verify:" + senderID},
				{"text": "Block", "callback_data": "block:" + senderID},
			}},
		},
	}
	return c.call(ctx, "sendMessage", payload, nil)
}

// AnswerCallback acknowledges an inline button press so the client stops
// showing a spinner.
func (c *TelegramClient) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

// FetchMedia resolves a voice file id and downloads its bytes.
func (c *TelegramClient) FetchMedia(ctx context.Context, fileID string) ([]byte, error) {
	var resolved struct {
		FilePath string `json:"file_path"`
	}
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &resolved); err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	if resolved.FilePath == "" {
		return nil, fmt.Errorf("resolve file %s: empty file_path", fileID)
	}
	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, resolved.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return io.ReadAll(resp.Body)
}

func (c *TelegramClient) call(ctx context.Context, method string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var apiResp struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !apiResp.OK {
		msg := apiResp.Description
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(apiResp.Result, out)
}
