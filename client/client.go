// Package client 提供面向单个实例地址的同步 HTTP 调用。
//
// 每次调用都携带关联 ID（X-Correlation-ID，缺省时生成），遵守单次或默认超时，
// 并返回统一的 Response，而不是把失败作为 error 抛给调用方：
//
//	cli, _ := client.New(&client.Config{Timeout: 3 * time.Second})
//	resp := cli.Do(ctx, client.Target{Host: "10.0.0.1", Port: 8080}, client.Request{
//		Method: http.MethodPost,
//		Path:   "/orders",
//		Body:   order,
//	})
//	if !resp.Success {
//		logger.Warn("call failed", clog.Error(resp.Error), clog.Int("status", resp.Status))
//	}
//
// 非 2xx 响应视为失败，状态码保留在 Response.Status。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/metrics"
	"github.com/ceyewan/meshlink/xerrors"
)

const (
	// HeaderCorrelationID 关联 ID 请求头
	HeaderCorrelationID = "X-Correlation-ID"
	contentTypeJSON     = "application/json"
	maxErrorBody        = 512
)

var (
	// ErrRequestFailed 非 2xx 或传输错误
	ErrRequestFailed = xerrors.NewCoded("REQUEST_FAILED", "client: request failed")
	// ErrRequestTimeout 调用超时
	ErrRequestTimeout = xerrors.NewCoded("REQUEST_TIMEOUT", "client: request timeout")
)

// Target 调用目标地址
type Target struct {
	Host string
	Port int
}

func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Request 单次调用
type Request struct {
	Method string
	Path   string
	// Body 非 nil 时按 JSON 序列化
	Body    any
	Headers map[string]string
	// Timeout 为 0 时使用 Config.Timeout
	Timeout       time.Duration
	CorrelationID string
}

// Response 统一调用结果
type Response struct {
	Success       bool
	Data          []byte
	Error         error
	Status        int
	Duration      time.Duration
	CorrelationID string
}

// Decode 将响应体按 JSON 解析到 v
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "client: empty response body")
	}
	return json.Unmarshal(r.Data, v)
}

// Client 同步调用客户端，可并发使用
type Client struct {
	cfg    Config
	http   *http.Client
	logger clog.Logger
	newID  func() string

	requests metrics.Counter
	duration metrics.Histogram
}

// New 创建客户端
func New(cfg *Config, opts ...Option) (*Client, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	base := o.transport
	if base == nil {
		base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        c.MaxIdleConns,
			MaxIdleConnsPerHost: c.MaxIdleConnsPerHost,
			IdleConnTimeout:     c.IdleConnTimeout,
		}
	}

	return &Client{
		cfg: c,
		http: &http.Client{
			Transport: otelhttp.NewTransport(base,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "HTTP " + r.Method + " " + r.URL.Path
				})),
		},
		logger:   o.logger,
		newID:    o.newID,
		requests: metrics.MustCounter(o.meter, "client_requests_total", "同步调用次数"),
		duration: metrics.MustHistogram(o.meter, "client_request_duration_seconds", "同步调用耗时",
			metrics.WithUnit("s")),
	}, nil
}

// Do 执行调用，从不 panic，失败通过 Response.Error 返回
func (c *Client) Do(ctx context.Context, target Target, req Request) *Response {
	start := time.Now()

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = CorrelationIDFrom(ctx)
	}
	if correlationID == "" {
		correlationID = c.newID()
	}

	resp := c.do(WithCorrelationID(ctx, correlationID), target, req, correlationID)
	resp.CorrelationID = correlationID
	resp.Duration = time.Since(start)

	outcome := metrics.OutcomeSuccess
	switch {
	case errors.Is(resp.Error, ErrRequestTimeout):
		outcome = metrics.OutcomeTimeout
	case !resp.Success:
		outcome = metrics.OutcomeError
	}
	c.requests.Inc(ctx,
		metrics.L(metrics.LabelOutcome, outcome),
		metrics.L(metrics.LabelStatus, metrics.HTTPStatusClass(resp.Status)))
	c.duration.Record(ctx, resp.Duration.Seconds(), metrics.L(metrics.LabelOutcome, outcome))

	if !resp.Success {
		c.logger.DebugContext(ctx, "request failed",
			clog.String("target", target.String()),
			clog.String("method", req.Method),
			clog.String("path", req.Path),
			clog.Int("status", resp.Status),
			clog.String("correlation_id", correlationID),
			clog.Error(resp.Error))
	}
	return resp
}

func (c *Client) do(ctx context.Context, target Target, req Request, correlationID string) *Response {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	url := fmt.Sprintf("%s://%s%s", c.cfg.Scheme, target.String(), req.Path)

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return &Response{Error: xerrors.Wrapf(ErrRequestFailed, "encode body: %v", err)}
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &Response{Error: xerrors.Wrapf(ErrRequestFailed, "build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set(HeaderCorrelationID, correlationID)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &Response{Error: xerrors.Wrapf(ErrRequestTimeout, "%s %s after %s", method, req.Path, timeout)}
		}
		return &Response{Error: xerrors.Wrapf(ErrRequestFailed, "%s %s: %v", method, req.Path, err)}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &Response{Status: httpResp.StatusCode, Error: xerrors.Wrapf(ErrRequestTimeout, "read body after %s", timeout)}
		}
		return &Response{Status: httpResp.StatusCode, Error: xerrors.Wrapf(ErrRequestFailed, "read body: %v", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		snippet := data
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return &Response{
			Status: httpResp.StatusCode,
			Data:   data,
			Error:  xerrors.Wrapf(ErrRequestFailed, "status %d: %s", httpResp.StatusCode, bytes.TrimSpace(snippet)),
		}
	}

	return &Response{Success: true, Status: httpResp.StatusCode, Data: data}
}
