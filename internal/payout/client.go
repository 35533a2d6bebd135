// Package payout предоставляет клиент внешнего шлюза выплат.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/settlement-system/internal/model"
)

// ErrDeclined возвращается при однозначном отказе шлюза (4xx).
// Любая другая ошибка означает неизвестный исход вызова.
var ErrDeclined = errors.New("payout declined by gateway")

// TokenCache хранит токен авторизации шлюза с учётом срока действия.
// Внедряется в клиент явно, а не через глобальное состояние.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// NewTokenCache создаёт пустой кэш токена.
func NewTokenCache() *TokenCache {
	return &TokenCache{now: time.Now}
}

// Get возвращает токен, если он ещё действителен.
func (c *TokenCache) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || !c.now().Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// Set сохраняет токен с запасом в 30 секунд до истечения срока действия.
func (c *TokenCache) Set(token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
	c.expiresAt = c.now().Add(ttl - 30*time.Second)
}

// Client инкапсулирует HTTP-взаимодействие со шлюзом выплат.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	tokens     *TokenCache
}

// NewClient создаёт клиент шлюза выплат с ограниченным таймаутом.
func NewClient(baseURL, keyID, keySecret string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tokens: NewTokenCache(),
	}
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

func (c *Client) authToken(ctx context.Context) (string, error) {
	if token, ok := c.tokens.Get(); ok {
		return token, nil
	}

	body, err := json.Marshal(map[string]string{
		"key_id":     c.keyID,
		"key_secret": c.keySecret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/auth/token"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request status: %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.tokens.Set(tr.Token, time.Duration(tr.ExpiresIn)*time.Second)

	return tr.Token, nil
}

func (c *Client) url(path string) string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + path
}

type payoutRequest struct {
	AccountNumber     string  `json:"account_number"`
	RoutingCode       string  `json:"routing_code"`
	AccountHolderName string  `json:"account_holder_name"`
	Amount            float64 `json:"amount"`
	Reference         string  `json:"reference"`
}

type payoutResponse struct {
	PayoutID string `json:"payout_id"`
	Error    string `json:"error"`
}

// CreatePayout выполняет выплату на банковские реквизиты продавца.
// Запрос не повторяется автоматически: повтор мог бы привести к двойной выплате.
// Возвращает ErrDeclined при однозначном отказе шлюза; любая другая ошибка
// (таймаут, 5xx) означает неизвестный исход и требует ручной сверки.
func (c *Client) CreatePayout(ctx context.Context, bank model.BankDetails, amountCents int64, reference string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("payout client not configured")
	}

	token, err := c.authToken(ctx)
	if err != nil {
		return "", fmt.Errorf("gateway auth: %w", err)
	}

	body, err := json.Marshal(payoutRequest{
		AccountNumber:     bank.AccountNumber,
		RoutingCode:       bank.RoutingCode,
		AccountHolderName: bank.AccountHolderName,
		Amount:            float64(amountCents) / 100,
		Reference:         reference,
	})
	if err != nil {
		return "", fmt.Errorf("marshal payout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/payouts"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do payout request: %w", err)
	}
	defer resp.Body.Close()

	var pr payoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil && resp.StatusCode < http.StatusBadRequest {
		return "", fmt.Errorf("decode payout response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return pr.PayoutID, nil
	case resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError:
		reason := pr.Error
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrDeclined, reason)
	default:
		return "", fmt.Errorf("unexpected gateway status: %d", resp.StatusCode)
	}
}
