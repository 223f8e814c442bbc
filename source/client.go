package source

import (
	"context"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// 既定の再試行ポリシー
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
	DefaultTimeout   = 20 * time.Second
)

// RetryPolicy は一時的なエラーの再試行方法です。
type RetryPolicy struct {
	// Attempts は最初の試行を含む最大試行回数です。
	Attempts uint64
	// BaseDelay は指数バックオフの初期待ち時間です。
	BaseDelay time.Duration
}

// DefaultRetryPolicy は3回まで、1秒から倍々で待つポリシーです。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, BaseDelay: DefaultBaseDelay}
}

// Retry は一時的なエラーの間fnを再試行します。
// 認証エラーなど一時的でないエラーは即座に返します。
func Retry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn func(ctx context.Context) error) error {
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := retry.WithMaxRetries(policy.Attempts-1, retry.NewExponential(policy.BaseDelay))

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			logger.Warn("transient upstream error",
				zap.Int("attempt", attempt),
				zap.Uint64("max_attempts", policy.Attempts),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return err
	})
}

// HTTPOptions は外部APIに使うHTTPクライアントの設定です。
type HTTPOptions struct {
	// Timeout は1リクエストあたりのタイムアウトです。
	Timeout time.Duration
	// RateLimit は1秒あたりの最大リクエスト数です。0以下の場合は制限しません。
	RateLimit float64
	// Transport は下位のRoundTripperです。nilの場合はhttp.DefaultTransportです。
	Transport http.RoundTripper
}

// NewHTTPClient はタイムアウトとレート制限を持つHTTPクライアントを作成します。
func NewHTTPClient(opts HTTPOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		transport = &RateLimitedTransport{
			Base:    transport,
			Limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), burst),
		}
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}
}

// RateLimitedTransport はリクエストの送信前にレート制限を待つRoundTripperです。
type RateLimitedTransport struct {
	Base    http.RoundTripper
	Limiter *rate.Limiter
}

func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.Base.RoundTrip(req)
}
