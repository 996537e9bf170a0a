package notify

import (
	"context"

	"TeamMatch/internal/interfaces"

	"github.com/sirupsen/logrus"
)

// LogNotifier 日志投递：只把通知写进日志，用于本地开发或未接通知系统的部署。
// 投递语义与真实实现一致（返回成功投递数），调用方无需区分
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) interfaces.Notifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, recipients []string, template string, data map[string]string) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}
	n.logger.WithFields(logrus.Fields{
		"template":   template,
		"recipients": recipients,
		"data":       data,
	}).Info("通知已写入日志（log模式）")
	return len(recipients), nil
}
