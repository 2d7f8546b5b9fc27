package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// PriceSource supplies spot prices for proxy assets.
type PriceSource interface {
	Price(ctx context.Context, assetID string) (float64, error)
}

// PriceClient fetches USD spot prices from a simple-price style endpoint:
// GET <base>?ids=<assetId>&vs=usd -> {"<assetId>": {"usd": <n>}}.
type PriceClient struct {
	client *resty.Client
}

func NewPriceClient(baseURL string, timeout time.Duration) *PriceClient {
	client := resty.New()
	client.SetBaseURL(baseURL)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.SetTimeout(timeout)
	return &PriceClient{client: client}
}

func (pc *PriceClient) Price(ctx context.Context, assetID string) (float64, error) {
	resp, err := pc.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids": assetID,
			"vs":  "usd",
		}).
		Get("")
	if err != nil {
		return 0, fmt.Errorf("fetch price for %s: %w", assetID, err)
	}
	if resp.StatusCode() != 200 {
		return 0, fmt.Errorf("price API error %d: %s", resp.StatusCode(), resp.String())
	}

	var payload map[string]map[string]float64
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return 0, fmt.Errorf("parse price response: %w", err)
	}
	quote, ok := payload[assetID]
	if !ok {
		return 0, fmt.Errorf("price response missing asset %s", assetID)
	}
	usd, ok := quote["usd"]
	if !ok || usd <= 0 {
		return 0, fmt.Errorf("no usd quote for %s", assetID)
	}
	return usd, nil
}

// baselineAsset is the ground-truth stand-in when no keyword matches.
const baselineAsset = "bitcoin"

var assetKeywords = []struct {
	keyword string
	assetID string
}{
	{"bitcoin", "bitcoin"},
	{"btc", "bitcoin"},
	{"ethereum", "ethereum"},
	{"eth", "ethereum"},
	{"solana", "solana"},
	{"sol", "solana"},
	{"dogecoin", "dogecoin"},
	{"doge", "dogecoin"},
	{"defi", "ethereum"},
	{"nft", "ethereum"},
	{"meme", "dogecoin"},
}

// ProxyAsset maps an abstract hunt topic to the tradable asset used as
// its ground-truth stand-in.
func ProxyAsset(topic string) string {
	lower := strings.ToLower(topic)
	for _, entry := range assetKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.assetID
		}
	}
	return baselineAsset
}
