// Package whatsapp talks to the WhatsApp Cloud API: webhook payload
// normalization, the GET verification handshake, outbound text sends, and
// media download.
package whatsapp

import (
	"encoding/json"
	"net/http"
	"strings"

	"mariobot/internal/policy"
)

// businessObject is the payload object kind the webhook subscribes to.
const businessObject = "whatsapp_business_account"

// mediaObject carries a media ID reference inside a message.
type mediaObject struct {
	ID string `json:"id"`
}

// message is one inbound message in a webhook payload.
type message struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Audio *mediaObject `json:"audio,omitempty"`
	Voice *mediaObject `json:"voice,omitempty"`
	Image *mediaObject `json:"image,omitempty"`
}

// webhookPayload mirrors the Cloud API webhook envelope.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Messages []message `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseInbound validates the payload shape and extracts one normalized event:
// the first message of the first change of the first entry. Platform batches
// are not fanned out. Returns false for malformed or empty payloads.
func ParseInbound(body []byte) (policy.Event, bool) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return policy.Event{}, false
	}
	if payload.Object != businessObject || len(payload.Entry) == 0 {
		return policy.Event{}, false
	}
	entry := payload.Entry[0]
	if len(entry.Changes) == 0 {
		return policy.Event{}, false
	}
	msgs := entry.Changes[0].Value.Messages
	if len(msgs) == 0 {
		return policy.Event{}, false
	}

	msg := msgs[0]
	if msg.From == "" {
		return policy.Event{}, false
	}

	ev := policy.Event{SenderID: msg.From}
	switch msg.Type {
	case "text":
		ev.Kind = policy.KindText
		if msg.Text != nil {
			ev.Text = msg.Text.Body
		}
		if strings.TrimSpace(ev.Text) == "" {
			ev.Text = policy.SentinelText
		}
	case "audio", "voice":
		ev.Kind = policy.KindAudio
		if msg.Audio != nil {
			ev.MediaRef = msg.Audio.ID
		} else if msg.Voice != nil {
			ev.MediaRef = msg.Voice.ID
		}
		if ev.MediaRef == "" {
			ev.Kind = policy.KindUnsupported
		}
	case "image":
		ev.Kind = policy.KindImage
		if msg.Image != nil {
			ev.MediaRef = msg.Image.ID
		}
	default:
		ev.Kind = policy.KindUnsupported
	}
	return ev, true
}

// VerifyWebhook implements the platform GET handshake. On success the returned
// body is the challenge to echo back.
func VerifyWebhook(mode, token, challenge, verifyToken string) (string, int) {
	if mode == "" || token == "" {
		return "", http.StatusBadRequest
	}
	if mode == "subscribe" && token == verifyToken {
		return challenge, http.StatusOK
	}
	return "", http.StatusForbidden
}
