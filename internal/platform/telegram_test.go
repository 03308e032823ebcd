package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"voicebox/pkg/domain"
)

func TestParseTelegramUpdateText(t *testing.T) {
	raw := []byte(`{"update_id":1,"message":{
		"date":1700000000,
		"from":{"id":42,"first_name":"Ada","last_name":"L"},
		"chat":{"id":-100},
		"text":"good night"}}`)

	upd, err := ParseTelegramUpdate(raw)
	if err != nil {
		t.Fatalf("ParseTelegramUpdate: %v", err)
	}
	if upd.Inbound == nil || upd.Command != nil {
		t.Fatalf("update = %+v, want inbound only", upd)
	}
	inb := upd.Inbound
	if inb.Platform != domain.PlatformTelegram || inb.Type != domain.TypeText {
		t.Fatalf("inbound = %+v", inb)
	}
	if inb.SenderID != "42" || inb.SenderName != "Ada L" || inb.ChatID != "-100" {
		t.Fatalf("sender fields = %+v", inb)
	}
	if inb.TextBody != "good night" {
		t.Fatalf("text = %q", inb.TextBody)
	}
}

func TestParseTelegramUpdateVoice(t *testing.T) {
	raw := []byte(`{"update_id":2,"message":{
		"date":1700000000,
		"from":{"id":42,"username":"ada"},
		"chat":{"id":42},
		"voice":{"file_id":"voice-7"}}}`)

	upd, err := ParseTelegramUpdate(raw)
	if err != nil {
		t.Fatalf("ParseTelegramUpdate: %v", err)
	}
	if upd.Inbound == nil {
		t.Fatalf("expected inbound message")
	}
	if upd.Inbound.Type != domain.TypeAudio || upd.Inbound.MediaRef != "voice-7" {
		t.Fatalf("inbound = %+v", upd.Inbound)
	}
	if upd.Inbound.SenderName != "ada" {
		t.Fatalf("username fallback broken: %q", upd.Inbound.SenderName)
	}
}

func TestParseTelegramUpdateCallbacks(t *testing.T) {
	cases := []struct {
		data string
		want AdminCommand
	}{
		{"verify:4915551111", AdminCommand{CallbackID: "cb", TrustAction: domain.ActionVerify, SenderID: "4915551111"}},
		{"block:4915551111", AdminCommand{CallbackID: "cb", TrustAction: domain.ActionBlock, SenderID: "4915551111"}},
		{"nightlight:2", AdminCommand{CallbackID: "cb", Nightlight: "2"}},
		{"nightlight:off", AdminCommand{CallbackID: "cb", Nightlight: "off"}},
	}
	for _, tc := range cases {
		raw := []byte(`{"update_id":3,"callback_query":{"id":"cb","data":"` + tc.data + `"}}`)
		upd, err := ParseTelegramUpdate(raw)
		if err != nil {
			t.Fatalf("ParseTelegramUpdate(%q): %v", tc.data, err)
		}
		if upd.Command == nil {
			t.Fatalf("ParseTelegramUpdate(%q): no command", tc.data)
		}
		if *upd.Command != tc.want {
			t.Fatalf("command = %+v, want %+v", *upd.Command, tc.want)
		}
	}
}

func TestParseTelegramUpdateIgnoresUnknown(t *testing.T) {
	for _, raw := range []string{
		`{"update_id":4,"callback_query":{"id":"cb","data":"mute:42"}}`,
		`{"update_id":5,"callback_query":{"id":"cb","data":"verify"}}`,
		`{"update_id":6,"message":{"date":1,"from":{"id":1},"chat":{"id":1}}}`,
		`{"update_id":7}`,
	} {
		upd, err := ParseTelegramUpdate([]byte(raw))
		if err != nil {
			t.Fatalf("ParseTelegramUpdate(%s): %v", raw, err)
		}
		if upd.Inbound != nil || upd.Command != nil {
			t.Fatalf("ParseTelegramUpdate(%s) = %+v, want empty", raw, upd)
		}
	}
}

func TestTelegramSendApprovalPrompt(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer ts.Close()

	c := NewTelegramClient("bot-token", ts.URL)
	err := c.SendApprovalPrompt(context.Background(), "admin-chat", "New sender Ada", "4915551111")
	if err != nil {
		t.Fatalf("SendApprovalPrompt: %v", err)
	}
	if gotPath != "/botbot-token/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	markup, _ := gotBody["reply_markup"].(map[string]any)
	rows, _ := markup["inline_keyboard"].([]any)
	if len(rows) != 1 {
		t.Fatalf("reply_markup = %v", gotBody["reply_markup"])
	}
	buttons, _ := rows[0].([]any)
	if len(buttons) != 2 {
		t.Fatalf("buttons = %v", rows[0])
	}
	first, _ := buttons[0].(map[string]any)
	if first["callback_data"] != "verify:4915551111" {
		t.Fatalf("verify button = %v", first)
	}
}

func TestTelegramFetchMedia(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("POST /botbot-token/getFile", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["file_id"] != "voice-7" {
			t.Errorf("file_id = %v", body["file_id"])
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"file_path":"voice/file_7.oga"}}`))
	})
	mux.HandleFunc("GET /file/botbot-token/voice/file_7.oga", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ogg-bytes"))
	})

	c := NewTelegramClient("bot-token", ts.URL)
	data, err := c.FetchMedia(context.Background(), "voice-7")
	if err != nil {
		t.Fatalf("FetchMedia: %v", err)
	}
	if string(data) != "ogg-bytes" {
		t.Fatalf("data = %q", data)
	}
}

func TestTelegramAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer ts.Close()

	c := NewTelegramClient("bot-token", ts.URL)
	err := c.SendText(context.Background(), "nope", "hi")
	if err == nil {
		t.Fatalf("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Message != "chat not found" {
		t.Fatalf("err = %v", err)
	}
}
