package httpclient

import (
	"net/http"
	"time"

	"TeamMatch/internal/config"

	"github.com/sirupsen/logrus"
)

// NewHTTPClient 通知投递用HTTP客户端（支持超时、失败重试）
func NewHTTPClient(cfg *config.NotifyConfig, logger *logrus.Logger) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &retryTransport{
			transport: transport,
			retries:   cfg.RetryCount,
			logger:    logger,
		},
	}
}

// retryTransport 网络错误或5xx时按固定退避重试；4xx视为投递端拒绝，不重试
type retryTransport struct {
	transport http.RoundTripper
	retries   int
	logger    *logrus.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	attempts := t.retries + 1
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			// 重试前必须重建请求体，否则上一次尝试已把 body 读完
			if req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return nil, bodyErr
				}
				req.Body = body
			}
			time.Sleep(time.Duration(i) * 500 * time.Millisecond)
		}
		resp, err = t.transport.RoundTrip(req)
		if err != nil {
			t.logger.WithError(err).WithField("attempt", i+1).Warn("通知投递请求失败")
			continue
		}
		if resp.StatusCode >= 500 && i < attempts-1 {
			t.logger.WithFields(logrus.Fields{
				"attempt": i + 1,
				"status":  resp.StatusCode,
			}).Warn("通知投递返回服务端错误")
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return nil, err
}
