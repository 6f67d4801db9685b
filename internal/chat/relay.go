// Package chat relays assistant questions to the chat workflow webhook.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/httputil"
	"github.com/kjannette/marketdash-backend/internal/models"
)

// FallbackMessage is shown to the user whenever the assistant cannot answer.
const FallbackMessage = "Desculpe, não consegui processar sua mensagem agora. Tente novamente em alguns instantes."

const maxMessageLen = 4000

type Request struct {
	Message      string `json:"message"`
	SessionID    string `json:"sessionId"`
	IsActivePlan bool   `json:"isActivePlan"`
}

type Relay struct {
	webhookURL string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        zerolog.Logger
}

func NewRelay(webhookURL string, log zerolog.Logger) *Relay {
	l := log.With().Str("component", "chat").Logger()
	return &Relay{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retry:      httputil.RetryConfig{MaxAttempts: 1, Log: &l},
		log:        l,
	}
}

func (r *Relay) Enabled() bool { return r.webhookURL != "" }

// Ask forwards req and returns the assistant's reply. On any failure the
// returned text is FallbackMessage and err says why.
func (r *Relay) Ask(ctx context.Context, req Request) (string, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return FallbackMessage, fmt.Errorf("%w: message is required", models.ErrValidation)
	}
	if len(req.Message) > maxMessageLen {
		return FallbackMessage, fmt.Errorf("%w: message longer than %d bytes", models.ErrValidation, maxMessageLen)
	}
	if !r.Enabled() {
		return FallbackMessage, fmt.Errorf("%w: chat webhook url", models.ErrConfigurationMissing)
	}

	raw, err := httputil.ReadBody(ctx, r.httpClient, r.retry, http.MethodPost, r.webhookURL, req)
	if err != nil {
		r.log.Error().Err(err).Str("session_id", req.SessionID).Int("status", httputil.StatusCode(err)).Msg("chat webhook failed")
		return FallbackMessage, err
	}

	reply, err := parseReply(raw)
	if err != nil {
		r.log.Error().Err(err).Str("session_id", req.SessionID).Msg("unreadable chat reply")
		return FallbackMessage, err
	}
	return reply, nil
}

type replyEnvelope struct {
	Response string `json:"response"`
	Output   string `json:"output"`
	Text     string `json:"text"`
	Message  string `json:"message"`
}

func (e replyEnvelope) text() string {
	for _, s := range []string{e.Response, e.Output, e.Text, e.Message} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// parseReply accepts an object with response/output/text/message, a list of
// such objects (first non-empty wins), a JSON string or plain text.
func parseReply(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%w: empty chat reply", models.ErrMalformedResponse)
	}

	switch trimmed[0] {
	case '{':
		var env replyEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return "", fmt.Errorf("%w: %w", models.ErrMalformedResponse, err)
		}
		if s := env.text(); s != "" {
			return s, nil
		}
	case '[':
		var list []replyEnvelope
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return "", fmt.Errorf("%w: %w", models.ErrMalformedResponse, err)
		}
		for _, env := range list {
			if s := env.text(); s != "" {
				return s, nil
			}
		}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("%w: %w", models.ErrMalformedResponse, err)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
	default:
		return string(trimmed), nil
	}
	return "", fmt.Errorf("%w: chat reply has no text", models.ErrMalformedResponse)
}
