package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"TeamMatch/internal/config"
	"TeamMatch/internal/interfaces"
	"TeamMatch/internal/utils/httpclient"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// WebhookNotifier 把通知投递到外部通知系统的 webhook；
// 模板渲染与实际送达由对端负责，本端只负责内容选择与收件人集合
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *logrus.Logger
}

func NewWebhookNotifier(cfg *config.NotifyConfig, logger *logrus.Logger) interfaces.Notifier {
	return &WebhookNotifier{
		url:    cfg.WebhookURL,
		client: httpclient.NewHTTPClient(cfg, logger),
		logger: logger,
	}
}

// webhookPayload 投递报文。trace_id 用于对端幂等与排查
type webhookPayload struct {
	TraceID    string            `json:"trace_id"`
	Template   string            `json:"template"`
	Recipients []string          `json:"recipients"`
	Data       map[string]string `json:"data,omitempty"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, recipients []string, template string, data map[string]string) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}
	payload := webhookPayload{
		TraceID:    uuid.NewString(),
		Template:   template,
		Recipients: recipients,
		Data:       data,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("序列化通知报文失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("构建通知请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("通知投递失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("通知投递被拒绝: status=%d", resp.StatusCode)
	}
	n.logger.WithFields(logrus.Fields{
		"template": template,
		"count":    len(recipients),
		"trace_id": payload.TraceID,
	}).Info("通知投递成功")
	return len(recipients), nil
}
