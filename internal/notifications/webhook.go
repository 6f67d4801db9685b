package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/httputil"
	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
)

// Sender delivers triggered price alerts to the WhatsApp webhook.
type Sender struct {
	webhookURL string
	appName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        zerolog.Logger
}

func NewSender(webhookURL, appName string, log zerolog.Logger) *Sender {
	if appName == "" {
		appName = "MarketDash"
	}
	l := log.With().Str("component", "notifications").Logger()
	return &Sender{
		webhookURL: webhookURL,
		appName:    appName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
			Log:         &l,
		},
		log: l,
	}
}

type alertPayload struct {
	Phone       string  `json:"phone"`
	Name        string  `json:"name,omitempty"`
	Message     string  `json:"message"`
	AlertID     string  `json:"alert_id"`
	Symbol      string  `json:"symbol"`
	Condition   string  `json:"condition"`
	TargetPrice float64 `json:"target_price"`
	Price       float64 `json:"price"`
}

// SendAlert posts one triggered alert. It returns an error when the webhook
// is unset, the owner has no phone, or delivery fails after retries.
func (s *Sender) SendAlert(ctx context.Context, a models.AlertWithProfile, price float64) error {
	if !s.Enabled() {
		return fmt.Errorf("%w: whatsapp webhook url", models.ErrConfigurationMissing)
	}
	if strings.TrimSpace(a.Phone) == "" {
		return fmt.Errorf("%w: alert %s: owner has no phone", models.ErrValidation, a.ID)
	}

	msg := s.formatMessage(a, price)
	err := httputil.PostJSON(ctx, s.httpClient, s.retry, s.webhookURL, alertPayload{
		Phone:       a.Phone,
		Name:        a.FullName,
		Message:     msg,
		AlertID:     a.ID,
		Symbol:      a.Symbol,
		Condition:   string(a.Condition),
		TargetPrice: a.TargetPrice,
		Price:       price,
	}, nil)
	if err != nil {
		s.log.Error().Err(err).Str("alert_id", a.ID).Str("symbol", a.Symbol).Msg("alert delivery failed")
		return err
	}
	s.log.Info().Str("alert_id", a.ID).Str("symbol", a.Symbol).Float64("price", price).Msg("alert delivered")
	return nil
}

func (s *Sender) formatMessage(a models.AlertWithProfile, price float64) string {
	sym := market.Normalize(a.Symbol)
	prefix := "US$"
	if market.CurrencyFor(market.Classify(sym)) == models.CurrencyBRL {
		prefix = "R$"
	}
	verb := "subiu para"
	if a.Condition == models.AlertBelow {
		verb = "caiu para"
	}
	greeting := ""
	if first := strings.Fields(a.FullName); len(first) > 0 {
		greeting = "Olá, " + first[0] + "! "
	}
	return fmt.Sprintf("[%s] %s%s %s %s %.2f (alvo %s %.2f)",
		s.appName, greeting, sym, verb, prefix, price, prefix, a.TargetPrice)
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
