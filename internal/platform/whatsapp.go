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

const graphAPIBase = "https://graph.facebook.com/v18.0"

// WhatsAppVerify is the subscription handshake result.
type WhatsAppVerify struct {
	OK        bool
	Challenge string
	Detail    string
}

// VerifyWhatsAppSubscription checks the hub.* query parameters against the
// configured verify token. On mismatch Detail echoes what was received so the
// platform dashboard shows the failing values.
func VerifyWhatsAppSubscription(mode, token, challenge, verifyToken string) WhatsAppVerify {
	if mode == "subscribe" && token != "" && token == verifyToken {
		return WhatsAppVerify{OK: true, Challenge: challenge}
	}
	return WhatsAppVerify{Detail: fmt.Sprintf("mode: %s token: %s", mode, token)}
}

type whatsAppEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []whatsAppMessage `json:"messages"`
				Contacts []whatsAppContact `json:"contacts"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type whatsAppMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio *struct {
		ID string `json:"id"`
	} `json:"audio"`
}

type whatsAppContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// ParseWhatsAppEnvelope extracts the canonical messages from a webhook
// delivery. Messages and contacts are zipped pairwise; entries with an
// unknown type or missing required fields are skipped rather than failing
// the whole delivery.
func ParseWhatsAppEnvelope(raw []byte) ([]domain.Inbound, error) {
	var env whatsAppEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode whatsapp envelope: %w", err)
	}
	var out []domain.Inbound
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			msgs := change.Value.Messages
			contacts := change.Value.Contacts
			n := len(msgs)
			if len(contacts) < n {
				n = len(contacts)
			}
			for i := 0; i < n; i++ {
				inb, ok := canonicalWhatsApp(msgs[i], contacts[i], raw)
				if !ok {
					continue
				}
				out = append(out, inb)
			}
		}
	}
	return out, nil
}

func canonicalWhatsApp(msg whatsAppMessage, contact whatsAppContact, raw []byte) (domain.Inbound, bool) {
	if strings.TrimSpace(contact.WaID) == "" {
		return domain.Inbound{}, false
	}
	inb := domain.Inbound{
		Platform:    domain.PlatformWhatsApp,
		SenderID:    contact.WaID,
		SenderName:  contact.Profile.Name,
		ChatID:      contact.WaID,
		ReceivedAt:  parseUnixSeconds(msg.Timestamp),
		RawEnvelope: raw,
	}
	switch msg.Type {
	case "text":
		if msg.Text == nil || msg.Text.Body == "" {
			return domain.Inbound{}, false
		}
		inb.Type = domain.TypeText
		inb.TextBody = msg.Text.Body
	case "audio":
		if msg.Audio == nil || msg.Audio.ID == "" {
			return domain.Inbound{}, false
		}
		inb.Type = domain.TypeAudio
		inb.MediaRef = msg.Audio.ID
	default:
		return domain.Inbound{}, false
	}
	return inb, true
}

func parseUnixSeconds(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}

// WhatsAppClient calls the Meta Graph API for media resolution and outbound
// sends.
type WhatsAppClient struct {
	baseURL       string
	token         string
	phoneNumberID string
	httpClient    *http.Client
}

// APIError represents a platform API error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewWhatsAppClient constructs a Graph API client. baseURL is overridable
// for tests; empty picks the production host.
func NewWhatsAppClient(token, phoneNumberID, baseURL string) *WhatsAppClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = graphAPIBase
	}
	return &WhatsAppClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		phoneNumberID: phoneNumberID,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchMedia resolves a media id to its download URL and fetches the bytes.
// Both calls carry the Graph API bearer token.
func (c *WhatsAppClient) FetchMedia(ctx context.Context, mediaID string) ([]byte, error) {
	var meta struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/"+mediaID, nil, &meta); err != nil {
		return nil, fmt.Errorf("resolve media %s: %w", mediaID, err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("resolve media %s: empty url", mediaID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return io.ReadAll(resp.Body)
}

// SendText pushes a plain text message to a WhatsApp user.
func (c *WhatsAppClient) SendText(ctx context.Context, chatID, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                chatID,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	return c.doJSON(ctx, http.MethodPost, url, payload, nil)
}

func (c *WhatsAppClient) doJSON(ctx context.Context, method, url string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = strings.NewReader(string(data))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
