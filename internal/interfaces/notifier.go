package interfaces

import "context"

// 本引擎用到的通知模板；渲染与投递由外部通知系统负责
const (
	TemplateMergeInvite     = "merge-invite"
	TemplateMergeConfirmed  = "merge-confirmed"
	TemplateTrackAssigned   = "track-assigned"
	TemplateTrackReassigned = "track-reassigned"
)

// Notifier 通知投递接口。投递失败只记录，绝不回滚已提交的状态变更
type Notifier interface {
	// Notify 向一组地址投递模板通知，返回成功投递数
	Notify(ctx context.Context, recipients []string, template string, data map[string]string) (int, error)
}
