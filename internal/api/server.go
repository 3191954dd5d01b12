package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "PayRoute/internal/errors"
	"PayRoute/internal/identity"
	"PayRoute/internal/ledger"
	"PayRoute/internal/observability/metrics"
	"PayRoute/internal/policy"
	"PayRoute/internal/router"
	"PayRoute/internal/subscription"
	"PayRoute/internal/vault"
)

// Server 负责暴露 REST 接口，供钱包与控制台调用。
type Server struct {
	addr          string
	policies      *policy.Engine
	subscriptions *subscription.Scheduler
	payments      *router.Router
	vault         *vault.Vault
	history       ledger.HistoryReader
	identity      identity.Predicate
}

// ServerOption 配置 Server 的可选依赖。
type ServerOption func(*Server)

// WithPayments 挂载一次性支付路由。
func WithPayments(r *router.Router) ServerOption {
	return func(s *Server) { s.payments = r }
}

// WithVault 挂载金库。
func WithVault(v *vault.Vault) ServerOption {
	return func(s *Server) { s.vault = v }
}

// WithHistory 挂载账本历史查询，驱动 analytics 接口。
func WithHistory(h ledger.HistoryReader) ServerOption {
	return func(s *Server) { s.history = h }
}

// WithIdentity 启用身份校验。挂载后创建策略与代理支付前都会先咨询身份档案。
func WithIdentity(p identity.Predicate) ServerOption {
	return func(s *Server) { s.identity = p }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, policies *policy.Engine, subscriptions *subscription.Scheduler, opts ...ServerOption) *Server {
	s := &Server{
		addr:          addr,
		policies:      policies,
		subscriptions: subscriptions,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Routes 返回完整的路由表。
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/policies", s.instrument("policies", s.handlePolicies))
	mux.HandleFunc("/api/v1/policies/execute", s.instrument("policies_execute", s.handlePolicyExecute))
	mux.HandleFunc("/api/v1/policies/revoke", s.instrument("policies_revoke", s.handlePolicyRevoke))
	mux.HandleFunc("/api/v1/subscriptions", s.instrument("subscriptions", s.handleSubscriptions))
	mux.HandleFunc("/api/v1/subscriptions/execute", s.instrument("subscriptions_execute", s.handleSubscriptionExecute))
	mux.HandleFunc("/api/v1/subscriptions/pause", s.instrument("subscriptions_pause", s.handleSubscriptionTransition(s.pause)))
	mux.HandleFunc("/api/v1/subscriptions/resume", s.instrument("subscriptions_resume", s.handleSubscriptionTransition(s.resume)))
	mux.HandleFunc("/api/v1/subscriptions/cancel", s.instrument("subscriptions_cancel", s.handleSubscriptionTransition(s.cancel)))
	mux.HandleFunc("/api/v1/payments", s.instrument("payments", s.handlePayments))
	mux.HandleFunc("/api/v1/vault/deposit", s.instrument("vault_deposit", s.handleVaultDeposit))
	mux.HandleFunc("/api/v1/vault/withdraw", s.instrument("vault_withdraw", s.handleVaultWithdraw))
	mux.HandleFunc("/api/v1/vault/positions", s.instrument("vault_positions", s.handleVaultPositions))
	mux.HandleFunc("/api/v1/analytics", s.instrument("analytics", s.handleAnalytics))
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

// ---- policies ----

type createPolicyRequest struct {
	Owner             string   `json:"owner"`
	Agent             string   `json:"agent"`
	MaxPerTx          int64    `json:"max_per_tx"`
	MaxDaily          int64    `json:"max_daily"`
	AllowedRecipients []string `json:"allowed_recipients,omitempty"`
	ExpiresAt         int64    `json:"expires_at,omitempty"`
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePolicyCreate(w, r)
	case http.MethodGet:
		s.handlePolicyGet(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePolicyCreate(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tier := -1
	if s.identity != nil {
		owner := ledger.Account(req.Owner)
		human, err := s.identity.IsHuman(ctx, owner)
		if err != nil {
			writeError(w, err)
			return
		}
		if !human {
			http.Error(w, "owner 未通过人类验证", http.StatusForbidden)
			return
		}
		if tier, err = s.identity.Tier(ctx, owner); err != nil {
			writeError(w, err)
			return
		}
	}

	recipients := make([]ledger.Account, 0, len(req.AllowedRecipients))
	for _, recipient := range req.AllowedRecipients {
		recipients = append(recipients, ledger.Account(recipient))
	}
	created, err := s.policies.CreatePolicy(ctx, &policy.SpendingPolicy{
		Owner:             ledger.Account(req.Owner),
		Agent:             ledger.Account(req.Agent),
		MaxPerTx:          req.MaxPerTx,
		MaxDaily:          req.MaxDaily,
		AllowedRecipients: recipients,
		ExpiresAt:         req.ExpiresAt,
	}, tier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	agent := strings.TrimSpace(r.URL.Query().Get("agent"))
	if owner == "" {
		http.Error(w, "缺少 owner 参数", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if agent != "" {
		p, err := s.policies.GetPolicy(ctx, ledger.Account(owner), ledger.Account(agent))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}
	policies, err := s.policies.ListByOwner(ctx, ledger.Account(owner))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

type executePaymentRequest struct {
	Owner     string `json:"owner"`
	Agent     string `json:"agent"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

func (s *Server) handlePolicyExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req executePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if s.identity != nil {
		human, err := s.identity.IsHuman(ctx, ledger.Account(req.Owner))
		if err != nil {
			writeError(w, err)
			return
		}
		if !human {
			http.Error(w, "owner 未通过人类验证", http.StatusForbidden)
			return
		}
	}

	receipt, err := s.policies.ExecutePayment(ctx,
		ledger.Account(req.Owner),
		ledger.Account(req.Agent),
		ledger.Account(req.Recipient),
		req.Amount,
	)
	if err != nil {
		metrics.ObserveExecution("policy", "failed")
		writeError(w, err)
		return
	}
	metrics.ObserveExecution("policy", "success")
	writeJSON(w, http.StatusOK, receipt)
}

type revokePolicyRequest struct {
	Caller string `json:"caller"`
	Owner  string `json:"owner"`
	Agent  string `json:"agent"`
}

func (s *Server) handlePolicyRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req revokePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if err := s.policies.RevokePolicy(r.Context(),
		ledger.Account(req.Caller),
		ledger.Account(req.Owner),
		ledger.Account(req.Agent),
	); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- subscriptions ----

type createSubscriptionRequest struct {
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

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubscriptionCreate(w, r)
	case http.MethodGet:
		s.handleSubscriptionList(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubscriptionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	created, err := s.subscriptions.Create(r.Context(), &subscription.Subscription{
		Payer:             ledger.Account(req.Payer),
		Recipient:         ledger.Account(req.Recipient),
		Token:             req.Token,
		Amount:            req.Amount,
		Interval:          req.Interval,
		MaxExecutions:     req.MaxExecutions,
		TipBps:            req.TipBps,
		NextExecutionTime: req.StartTime,
		Memo:              req.Memo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleSubscriptionList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := []subscription.ListOption{}
	if payer := strings.TrimSpace(query.Get("payer")); payer != "" {
		opts = append(opts, subscription.WithPayer(ledger.Account(payer)))
	}
	if status := strings.TrimSpace(query.Get("status")); status != "" {
		opts = append(opts, subscription.WithStatuses(subscription.Status(status)))
	}
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, subscription.WithLimit(limit))
		}
	}
	subs, err := s.subscriptions.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

type executeSubscriptionRequest struct {
	ID       uint64 `json:"id"`
	Executor string `json:"executor"`
}

func (s *Server) handleSubscriptionExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req executeSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	receipt, err := s.subscriptions.Execute(r.Context(), req.ID, ledger.Account(req.Executor))
	if err != nil {
		metrics.ObserveExecution("subscription", "failed")
		writeError(w, err)
		return
	}
	metrics.ObserveExecution("subscription", "success")
	writeJSON(w, http.StatusOK, receipt)
}

type subscriptionTransitionRequest struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

func (s *Server) pause(ctx context.Context, caller ledger.Account, id uint64) error {
	return s.subscriptions.Pause(ctx, caller, id)
}

func (s *Server) resume(ctx context.Context, caller ledger.Account, id uint64) error {
	return s.subscriptions.Resume(ctx, caller, id)
}

func (s *Server) cancel(ctx context.Context, caller ledger.Account, id uint64) error {
	return s.subscriptions.Cancel(ctx, caller, id)
}

func (s *Server) handleSubscriptionTransition(apply func(context.Context, ledger.Account, uint64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		var req subscriptionTransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		if err := apply(r.Context(), ledger.Account(req.Caller), req.ID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---- payments ----

type sendPaymentRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	RouteID   string `json:"route_id,omitempty"`
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.payments == nil {
		http.Error(w, "支付路由未启用", http.StatusServiceUnavailable)
		return
	}
	var req sendPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	receipt, err := s.payments.SendPayment(r.Context(),
		ledger.Account(req.Sender),
		ledger.Account(req.Recipient),
		req.Amount,
		req.RouteID,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// ---- vault ----

type vaultRequest struct {
	User   string `json:"user"`
	Amount int64  `json:"amount"`
}

func (s *Server) handleVaultDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMutation(w, r, func(ctx context.Context, user ledger.Account, amount int64) (*vault.Position, error) {
		return s.vault.Deposit(ctx, user, amount)
	})
}

func (s *Server) handleVaultWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMutation(w, r, func(ctx context.Context, user ledger.Account, amount int64) (*vault.Position, error) {
		return s.vault.Withdraw(ctx, user, amount)
	})
}

func (s *Server) handleVaultMutation(w http.ResponseWriter, r *http.Request, apply func(context.Context, ledger.Account, int64) (*vault.Position, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.vault == nil {
		http.Error(w, "金库未启用", http.StatusServiceUnavailable)
		return
	}
	var req vaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	position, err := apply(r.Context(), ledger.Account(req.User), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (s *Server) handleVaultPositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.vault == nil {
		http.Error(w, "金库未启用", http.StatusServiceUnavailable)
		return
	}
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		http.Error(w, "缺少 user 参数", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.vault.PositionOf(ledger.Account(user)))
}

// ---- analytics ----

type analyticsResponse struct {
	User             string `json:"user"`
	TotalSent        int64  `json:"total_sent"`
	UniqueRecipients int    `json:"unique_recipients"`
	VaultBalance     int64  `json:"vault_balance"`
	VaultTVL         int64  `json:"vault_tvl"`
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		http.Error(w, "analytics 未启用", http.StatusServiceUnavailable)
		return
	}
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		http.Error(w, "缺少 user 参数", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	account := ledger.Account(user)
	total, err := s.history.TotalTransferred(ctx, account, ledger.KindPayment)
	if err != nil {
		writeError(w, err)
		return
	}
	recipients, err := s.history.UniqueRecipients(ctx, account, ledger.KindPayment)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := analyticsResponse{
		User:             user,
		TotalSent:        total,
		UniqueRecipients: recipients,
	}
	if s.vault != nil {
		resp.VaultBalance = s.vault.PositionOf(account).Balance
		resp.VaultTVL = s.vault.TVL()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 将统一错误码映射为 HTTP 状态。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch {
	case strings.HasSuffix(string(code), "VALIDATION_FAILED"), code == xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case strings.HasSuffix(string(code), "NOT_FOUND"):
		status = http.StatusNotFound
	case code == policy.CodeNotOwner, code == subscription.CodeNotPayer:
		status = http.StatusForbidden
	case code == policy.CodePolicyInactive, code == policy.CodePolicyExpired,
		code == policy.CodeRecipientNotAllowed, code == policy.CodePerTxLimitExceeded,
		code == policy.CodeDailyLimitExceeded, code == subscription.CodeSubscriptionInactive,
		code == subscription.CodeSubscriptionTerminal, code == subscription.CodeNotDue,
		code == vault.CodeInsufficientPosition:
		status = http.StatusConflict
	case code == policy.CodeTransferFailed, code == subscription.CodeTransferFailed,
		code == subscription.CodeTipTransferFailed, code == router.CodePaymentFailed,
		code == vault.CodeTransferFailed, code == xerrors.CodeLedgerFailure,
		code == xerrors.CodeStorageFailure, code == xerrors.CodeQueueFailure:
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  string(code),
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
