package payroute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the PayRoute REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// SpendingPolicy mirrors the policy resource returned by the API.
type SpendingPolicy struct {
	Owner             string   `json:"owner"`
	Agent             string   `json:"agent"`
	MaxPerTx          int64    `json:"max_per_tx"`
	MaxDaily          int64    `json:"max_daily"`
	DailySpent        int64    `json:"daily_spent"`
	WindowStart       int64    `json:"window_start"`
	AllowedRecipients []string `json:"allowed_recipients,omitempty"`
	Active            bool     `json:"active"`
	CreatedAt         int64    `json:"created_at"`
	ExpiresAt         int64    `json:"expires_at,omitempty"`
}

// CreatePolicyRequest is the payload for registering an agent spending policy.
type CreatePolicyRequest struct {
	Owner             string   `json:"owner"`
	Agent             string   `json:"agent"`
	MaxPerTx          int64    `json:"max_per_tx"`
	MaxDaily          int64    `json:"max_daily"`
	AllowedRecipients []string `json:"allowed_recipients,omitempty"`
	ExpiresAt         int64    `json:"expires_at,omitempty"`
}

// PaymentReceipt records a completed agent payment.
type PaymentReceipt struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	Agent      string `json:"agent"`
	Recipient  string `json:"recipient"`
	Amount     int64  `json:"amount"`
	DailySpent int64  `json:"daily_spent"`
	ExecutedAt int64  `json:"executed_at"`
}

// Subscription mirrors the recurring payment resource.
type Subscription struct {
	ID                uint64 `json:"id"`
	Payer             string `json:"payer"`
	Recipient         string `json:"recipient"`
	Token             string `json:"token"`
	Amount            int64  `json:"amount"`
	Interval          int64  `json:"interval"`
	MaxExecutions     int64  `json:"max_executions"`
	ExecutionCount    int64  `json:"execution_count"`
	TipBps            int64  `json:"tip_bps"`
	NextExecutionTime int64  `json:"next_execution_time"`
	Status            string `json:"status"`
	Memo              string `json:"memo,omitempty"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
}

// CreateSubscriptionRequest is the payload for opening a subscription.
type CreateSubscriptionRequest struct {
	Payer         string `json:"payer"`
	Recipient     string `json:"recipient"`
	Token         string `json:"token,omitempty"`
	Amount        int64  `json:"amount"`
	Interval      int64  `json:"interval"`
	MaxExecutions int64  `json:"max_executions,omitempty"`
	TipBps        int64  `json:"tip_bps,omitempty"`
	StartTime     int64  `json:"start_time,omitempty"`
	Memo          string `json:"memo,omitempty"`
}

// SubscriptionReceipt records one executed billing cycle.
type SubscriptionReceipt struct {
	ID                string `json:"id"`
	SubscriptionID    uint64 `json:"subscription_id"`
	Executor          string `json:"executor"`
	Amount            int64  `json:"amount"`
	Tip               int64  `json:"tip"`
	ExecutionCount    int64  `json:"execution_count"`
	NextExecutionTime int64  `json:"next_execution_time"`
	ExecutedAt        int64  `json:"executed_at"`
}

// RouteReceipt records a one-off routed payment and its fee split.
type RouteReceipt struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Fee       int64  `json:"fee"`
	RouteID   string `json:"route_id,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("payroute api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("payroute api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the PayRoute API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// CreatePolicy registers or replaces the spending policy for an owner/agent pair.
func (c *Client) CreatePolicy(ctx context.Context, req CreatePolicyRequest) (SpendingPolicy, error) {
	var created SpendingPolicy
	if err := c.post(ctx, "/api/v1/policies", req, &created); err != nil {
		return SpendingPolicy{}, err
	}
	return created, nil
}

// GetPolicy fetches a single policy by owner and agent.
func (c *Client) GetPolicy(ctx context.Context, owner, agent string) (SpendingPolicy, error) {
	var found SpendingPolicy
	endpoint := fmt.Sprintf("/api/v1/policies?owner=%s&agent=%s", url.QueryEscape(owner), url.QueryEscape(agent))
	if err := c.get(ctx, endpoint, &found); err != nil {
		return SpendingPolicy{}, err
	}
	return found, nil
}

// ListPolicies fetches all policies registered by an owner.
func (c *Client) ListPolicies(ctx context.Context, owner string) ([]SpendingPolicy, error) {
	var policies []SpendingPolicy
	endpoint := fmt.Sprintf("/api/v1/policies?owner=%s", url.QueryEscape(owner))
	if err := c.get(ctx, endpoint, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// ExecutePayment asks an agent payment to be settled under its policy.
func (c *Client) ExecutePayment(ctx context.Context, owner, agent, recipient string, amount int64) (PaymentReceipt, error) {
	payload := map[string]any{
		"owner":     owner,
		"agent":     agent,
		"recipient": recipient,
		"amount":    amount,
	}
	var receipt PaymentReceipt
	if err := c.post(ctx, "/api/v1/policies/execute", payload, &receipt); err != nil {
		return PaymentReceipt{}, err
	}
	return receipt, nil
}

// RevokePolicy deactivates the policy. Only the owner may revoke.
func (c *Client) RevokePolicy(ctx context.Context, caller, owner, agent string) error {
	payload := map[string]any{"caller": caller, "owner": owner, "agent": agent}
	return c.post(ctx, "/api/v1/policies/revoke", payload, nil)
}

// CreateSubscription opens a recurring payment schedule.
func (c *Client) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error) {
	var created Subscription
	if err := c.post(ctx, "/api/v1/subscriptions", req, &created); err != nil {
		return Subscription{}, err
	}
	return created, nil
}

// ListSubscriptions fetches subscriptions filtered by payer.
func (c *Client) ListSubscriptions(ctx context.Context, payer string) ([]Subscription, error) {
	var subs []Subscription
	endpoint := fmt.Sprintf("/api/v1/subscriptions?payer=%s", url.QueryEscape(payer))
	if err := c.get(ctx, endpoint, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// ExecuteSubscription settles one due billing cycle on behalf of executor.
func (c *Client) ExecuteSubscription(ctx context.Context, id uint64, executor string) (SubscriptionReceipt, error) {
	payload := map[string]any{"id": id, "executor": executor}
	var receipt SubscriptionReceipt
	if err := c.post(ctx, "/api/v1/subscriptions/execute", payload, &receipt); err != nil {
		return SubscriptionReceipt{}, err
	}
	return receipt, nil
}

// PauseSubscription suspends future executions. Only the payer may pause.
func (c *Client) PauseSubscription(ctx context.Context, caller string, id uint64) error {
	return c.transition(ctx, "/api/v1/subscriptions/pause", caller, id)
}

// ResumeSubscription re-activates a paused schedule.
func (c *Client) ResumeSubscription(ctx context.Context, caller string, id uint64) error {
	return c.transition(ctx, "/api/v1/subscriptions/resume", caller, id)
}

// CancelSubscription permanently terminates the schedule.
func (c *Client) CancelSubscription(ctx context.Context, caller string, id uint64) error {
	return c.transition(ctx, "/api/v1/subscriptions/cancel", caller, id)
}

// SendPayment routes a one-off payment through the fee splitter.
func (c *Client) SendPayment(ctx context.Context, sender, recipient string, amount int64, routeID string) (RouteReceipt, error) {
	payload := map[string]any{
		"sender":    sender,
		"recipient": recipient,
		"amount":    amount,
		"route_id":  routeID,
	}
	var receipt RouteReceipt
	if err := c.post(ctx, "/api/v1/payments", payload, &receipt); err != nil {
		return RouteReceipt{}, err
	}
	return receipt, nil
}

func (c *Client) transition(ctx context.Context, endpoint, caller string, id uint64) error {
	payload := map[string]any{"caller": caller, "id": id}
	return c.post(ctx, endpoint, payload, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
