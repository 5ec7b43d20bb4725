package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	xerrors "ChainFlow-Agent/internal/errors"
)

// TransferStatus 表示一次跨链转移在组合服务侧的状态。
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// Quote 是组合服务对一次跨链转移的报价。
type Quote struct {
	QuoteID       string   `json:"quote_id"`
	FromChain     string   `json:"from_chain"`
	ToChain       string   `json:"to_chain"`
	Asset         string   `json:"asset"`
	Amount        *big.Int `json:"-"`
	EstimatedFee  string   `json:"estimated_fee"`
	ExpiresAtUnix int64    `json:"expires_at"`
}

// Transfer 是已提交转移的回执，CorrelationID 用于后续轮询。
type Transfer struct {
	CorrelationID string         `json:"correlation_id"`
	Status        TransferStatus `json:"status"`
	Message       string         `json:"message,omitempty"`
}

// Backend 抽象了跨链桥/兑换组合服务。重试与幂等由服务自身保证，
// 这里只发起请求并解读响应。
type Backend interface {
	// QuoteTransfer 请求一次跨链转移的报价。
	QuoteTransfer(ctx context.Context, fromChain, toChain, asset string, amount *big.Int) (Quote, error)
	// SubmitTransfer 按报价提交转移，返回可轮询的关联 ID。
	SubmitTransfer(ctx context.Context, quoteID string) (Transfer, error)
	// TransferStatus 按关联 ID 查询转移状态。
	TransferStatus(ctx context.Context, correlationID string) (Transfer, error)
}

const defaultTimeout = 30 * time.Second

// Config 描述组合服务的接入信息。
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client 通过 HTTP 调用组合服务。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient 根据配置创建组合服务客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("未配置桥接服务地址")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// QuoteTransfer 实现 Backend 接口。
func (c *Client) QuoteTransfer(ctx context.Context, fromChain, toChain, asset string, amount *big.Int) (Quote, error) {
	payload := map[string]string{
		"from_chain": fromChain,
		"to_chain":   toChain,
		"asset":      asset,
		"amount":     amount.String(),
	}
	var quote Quote
	if err := c.post(ctx, "/v1/quotes", payload, &quote); err != nil {
		return Quote{}, err
	}
	if quote.QuoteID == "" {
		return Quote{}, xerrors.New(xerrors.CodeBridgeFailure, "桥接服务未返回报价 ID")
	}
	quote.Amount = new(big.Int).Set(amount)
	return quote, nil
}

// SubmitTransfer 实现 Backend 接口。
func (c *Client) SubmitTransfer(ctx context.Context, quoteID string) (Transfer, error) {
	payload := map[string]string{"quote_id": quoteID}
	var transfer Transfer
	if err := c.post(ctx, "/v1/transfers", payload, &transfer); err != nil {
		return Transfer{}, err
	}
	if transfer.CorrelationID == "" {
		return Transfer{}, xerrors.New(xerrors.CodeBridgeFailure, "桥接服务未返回关联 ID")
	}
	return transfer, nil
}

// TransferStatus 实现 Backend 接口。
func (c *Client) TransferStatus(ctx context.Context, correlationID string) (Transfer, error) {
	endpoint := c.baseURL + "/v1/transfers/" + correlationID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Transfer{}, fmt.Errorf("构建桥接请求失败: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Transfer{}, xerrors.Wrap(xerrors.CodeBridgeFailure, err, "请求桥接服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return Transfer{}, decodeError(resp)
	}

	var transfer Transfer
	if err := json.NewDecoder(resp.Body).Decode(&transfer); err != nil {
		return Transfer{}, xerrors.Wrap(xerrors.CodeBridgeFailure, err, "解析桥接响应失败")
	}
	return transfer, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化桥接请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构建桥接请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeBridgeFailure, err, "请求桥接服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeBridgeFailure, err, "解析桥接响应失败")
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	message := fmt.Sprintf("桥接服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= http.StatusInternalServerError {
		return xerrors.New(xerrors.CodeBridgeFailure, message)
	}
	return xerrors.New(xerrors.CodeBridgeFailure, message, xerrors.WithRetryable(false))
}

var _ Backend = (*Client)(nil)
