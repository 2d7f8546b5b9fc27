// Package agents calls external data agents over HTTP through the circuit
// breaker, decoding each answer into a directional signal.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/internal/breaker"
	"github.com/sigmafold/alphahunt/models"
)

// Signal header protocol. Agents that declare a position up front set
// these on the response; the payload heuristics are the fallback.
const (
	HeaderDirection  = "X-Alpha-Direction"
	HeaderConfidence = "X-Alpha-Confidence"
	HeaderStake      = "X-Alpha-Stake"
)

// PaymentSettler resolves a priced-call challenge so the call can be
// retried as a paid one. The real handshake lives outside the core.
type PaymentSettler interface {
	Settle(ctx context.Context, agentKey string, challenge []byte) error
}

// NopSettler accepts every challenge without paying; useful for free
// agents and tests.
type NopSettler struct{}

func (NopSettler) Settle(context.Context, string, []byte) error { return nil }

type payingNotifyKey struct{}

// WithPayingNotify attaches a callback fired when a payment challenge is
// being settled for an agent. The callback rides the call context, so the
// notification stays scoped to the hunt that issued the call.
func WithPayingNotify(ctx context.Context, fn func(agentKey string)) context.Context {
	return context.WithValue(ctx, payingNotifyKey{}, fn)
}

func payingNotify(ctx context.Context) func(string) {
	fn, _ := ctx.Value(payingNotifyKey{}).(func(string))
	return fn
}

// CallError wraps an agent failure with a warning string suitable for the
// hunt report.
type CallError struct {
	AgentKey string
	Warning  string
	Err      error
}

func (e *CallError) Error() string { return fmt.Sprintf("%s: %s", e.AgentKey, e.Warning) }
func (e *CallError) Unwrap() error { return e.Err }

// Client is the guarded agent caller.
type Client struct {
	http      *resty.Client
	breaker   *breaker.Breaker
	payments  PaymentSettler
	extractor *SignalExtractor
	logger    *zap.Logger
}

func NewClient(br *breaker.Breaker, payments PaymentSettler, timeout time.Duration, logger *zap.Logger) *Client {
	if payments == nil {
		payments = NopSettler{}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	http := resty.New()
	http.SetTimeout(timeout)
	return &Client{
		http:      http,
		breaker:   br,
		payments:  payments,
		extractor: NewSignalExtractor(),
		logger:    logger.Named("agents"),
	}
}

// Call posts the request body to the agent through its circuit breaker.
// The context carries both the per-call timeout and the hunt-wide
// cancellation signal.
func (c *Client) Call(ctx context.Context, agent models.AgentDescriptor, body any) (*models.AgentResult, error) {
	var result *models.AgentResult
	start := time.Now()

	err := c.breaker.Guard(agent.Key, func() error {
		var err error
		result, err = c.doCall(ctx, agent, body, true)
		return err
	})
	if err != nil {
		warning := fmt.Sprintf("agent %s unavailable: %v", agent.Key, err)
		if errors.Is(err, breaker.ErrCircuitOpen) {
			warning = fmt.Sprintf("agent %s skipped: circuit open", agent.Key)
		}
		return nil, &CallError{AgentKey: agent.Key, Warning: warning, Err: err}
	}

	result.Latency = time.Since(start)
	return result, nil
}

func (c *Client) doCall(ctx context.Context, agent models.AgentDescriptor, body any, allowRetry bool) (*models.AgentResult, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(agent.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", agent.Endpoint, err)
	}

	if resp.StatusCode() == 402 {
		// Priced-call challenge: settle through the external handshake,
		// then retry exactly once.
		if !allowRetry {
			return nil, fmt.Errorf("agent %s demanded payment twice", agent.Key)
		}
		if notify := payingNotify(ctx); notify != nil {
			notify(agent.Key)
		}
		if err := c.payments.Settle(ctx, agent.Key, resp.Body()); err != nil {
			return nil, fmt.Errorf("payment handshake with %s: %w", agent.Key, err)
		}
		c.logger.Debug("payment challenge settled, retrying", zap.String("agent", agent.Key))
		return c.doCall(ctx, agent, body, false)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("agent %s returned %d", agent.Key, resp.StatusCode())
	}

	return c.decode(agent, resp)
}

func (c *Client) decode(agent models.AgentDescriptor, resp *resty.Response) (*models.AgentResult, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, fmt.Errorf("parse response from %s: %w", agent.Key, err)
	}
	if len(envelope.Result) == 0 {
		return nil, fmt.Errorf("agent %s returned no result", agent.Key)
	}

	result := &models.AgentResult{
		AgentKey: agent.Key,
		Payload:  envelope.Result,
		Summary:  summarize(envelope.Result),
		Stake:    decimal.Zero,
	}

	if dir := resp.Header().Get(HeaderDirection); dir != "" {
		result.Direction = models.ParseDirection(dir)
		result.Confidence = parseConfidence(resp.Header().Get(HeaderConfidence))
		result.FromHeader = true
		if stakeStr := resp.Header().Get(HeaderStake); stakeStr != "" {
			if stake, err := decimal.NewFromString(stakeStr); err == nil && stake.IsPositive() {
				result.Stake = stake
			}
		}
		return result, nil
	}

	result.Direction, result.Confidence = c.extractor.Extract(string(envelope.Result))
	return result, nil
}

func parseConfidence(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0.5
	}
	if v > 1 {
		// Some agents report 0-100.
		v = v / 100
		if v > 1 {
			v = 1
		}
	}
	return v
}

// summarize trims a raw payload into a short human-readable excerpt,
// cutting on a rune boundary so multibyte payloads stay valid UTF-8.
func summarize(raw json.RawMessage) string {
	s := string(raw)
	if len(s) <= 280 {
		return s
	}
	cut := 280
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
