// Package deepseek asks the DeepSeek chat-completions API for trade signals
// and strategy adaptations.
package deepseek

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// SourceName tags signals produced by this package.
const SourceName = "deepseek"

// Config configures the client.
type Config struct {
	APIURL      string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client implements domain.SignalProvider and domain.StrategyAdvisor.
type Client struct {
	http *resty.Client
	cfg  Config
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.deepseek.com/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		http: resty.New().
			SetTimeout(cfg.Timeout).
			SetAuthToken(cfg.APIKey).
			SetHeader("Content-Type", "application/json"),
		cfg: cfg,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// complete sends a single-turn prompt and returns the first choice.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       c.cfg.Model,
			Messages:    []message{{Role: "user", Content: prompt}},
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		}).
		SetResult(&out).
		Post(c.cfg.APIURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("status %d: %s: %w", resp.StatusCode(), truncate(resp.String(), 200), domain.ErrUpstream)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty completion: %w", domain.ErrUpstream)
	}
	return out.Choices[0].Message.Content, nil
}

// signal is the trade shape the model is asked to return.
type signal struct {
	Asset         string   `json:"asset"`
	Direction     string   `json:"direction"`
	EntryPrice    float64  `json:"entry_price"`
	StopLoss      float64  `json:"stop_loss"`
	TakeProfit    float64  `json:"take_profit"`
	PositionSize  float64  `json:"position_size"`
	Confidence    *float64 `json:"confidence"`
	ConditionsMet []string `json:"conditions_met"`
}

// GenerateSignals prompts for trade signals. Entries missing an asset, a
// positive entry price or a positive size are dropped.
func (c *Client) GenerateSignals(ctx context.Context, req domain.SignalRequest) ([]domain.Signal, error) {
	prompt, err := tradePrompt(req)
	if err != nil {
		return nil, fmt.Errorf("deepseek: generate signals: %w", err)
	}
	reply, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("deepseek: generate signals: %w", err)
	}
	signals, err := ParseSignals(reply)
	if err != nil {
		return nil, fmt.Errorf("deepseek: generate signals: %w", err)
	}
	return signals, nil
}

// AdaptStrategy prompts for an adapted strategy configuration.
func (c *Client) AdaptStrategy(ctx context.Context, st domain.Strategy, snap domain.MarketSnapshot) (domain.StrategyConfig, error) {
	prompt, err := adaptationPrompt(st, snap)
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("deepseek: adapt strategy: %w", err)
	}
	reply, err := c.complete(ctx, prompt)
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("deepseek: adapt strategy: %w", err)
	}
	cfg, err := ParseConfig(reply)
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("deepseek: adapt strategy: %w", err)
	}
	return cfg, nil
}

// ParseSignals extracts the JSON array between the first '[' and the last ']'
// of a model reply.
func ParseSignals(reply string) ([]domain.Signal, error) {
	raw, err := extract(reply, '[', ']')
	if err != nil {
		return nil, err
	}
	var parsed []signal
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decode signals: %w: %v", domain.ErrUpstream, err)
	}

	out := make([]domain.Signal, 0, len(parsed))
	for _, s := range parsed {
		if strings.TrimSpace(s.Asset) == "" || s.EntryPrice <= 0 || s.PositionSize <= 0 {
			continue
		}
		side := domain.TradeSide(strings.ToLower(strings.TrimSpace(s.Direction)))
		if side == "" {
			side = domain.TradeSideBuy
		}
		if !side.Valid() {
			continue
		}

		confidence := 0.5
		if s.Confidence != nil {
			confidence = *s.Confidence
		}
		sig := domain.Signal{
			Symbol:        strings.ToUpper(strings.TrimSpace(s.Asset)),
			Side:          side,
			Amount:        s.PositionSize,
			Price:         s.EntryPrice,
			Confidence:    &confidence,
			ConditionsMet: s.ConditionsMet,
			Source:        SourceName,
		}
		if s.StopLoss > 0 {
			v := s.StopLoss
			sig.StopLoss = &v
		}
		if s.TakeProfit > 0 {
			v := s.TakeProfit
			sig.TakeProfit = &v
		}
		out = append(out, sig)
	}
	return out, nil
}

// ParseConfig extracts the JSON object between the first '{' and the last
// '}' of a model reply.
func ParseConfig(reply string) (domain.StrategyConfig, error) {
	raw, err := extract(reply, '{', '}')
	if err != nil {
		return domain.StrategyConfig{}, err
	}
	var cfg domain.StrategyConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("decode config: %w: %v", domain.ErrUpstream, err)
	}
	return cfg, nil
}

func extract(reply string, first, last byte) (string, error) {
	start := strings.IndexByte(reply, first)
	end := strings.LastIndexByte(reply, last)
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON %c...%c in reply: %w", first, last, domain.ErrUpstream)
	}
	return reply[start : end+1], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
