package external_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/marketdash-backend/internal/external"
)

func init() {
	_ = godotenv.Load("../../.env")
}

func TestLiveBrapiQuotes(t *testing.T) {
	token := os.Getenv("BRAPI_TOKEN")
	if token == "" {
		t.Skip("BRAPI_TOKEN not set, skipping")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res := external.NewBrapiClient(token, external.ClientOptions{}, zerolog.Nop()).
		FetchQuotes(ctx, []string{"PETR4", "VALE3"})
	require.True(t, res.HasData(), "no data: %v", res.Reason)
	for _, q := range res.Quotes {
		t.Logf("%s %.2f %s (%+.2f%%)", q.Symbol, q.Price, q.Currency, q.ChangePercent)
	}
}

func TestLivePolygonQuotes(t *testing.T) {
	key := os.Getenv("POLYGON_API_KEY")
	if key == "" {
		t.Skip("POLYGON_API_KEY not set, skipping")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res := external.NewPolygonClient(key, external.ClientOptions{}, zerolog.Nop()).
		FetchQuotes(ctx, []string{"AAPL"})
	require.True(t, res.HasData(), "no data: %v", res.Reason)
	t.Logf("AAPL prev close %.2f", res.Quotes[0].Price)
}
