package service

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"TeamMatch/internal/config"
	"TeamMatch/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

// newTestDB 每个测试用独立的内存库，迁移全部表
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Edition{},
		&model.Member{},
		&model.Registration{},
		&model.TeamCode{},
		&model.MergePoolEntry{},
		&model.MergeEventLog{},
	))
	return db
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func intPtr(n int) *int { return &n }

func newTestConfig() *config.Config {
	return &config.Config{
		Merge: config.MergeConfig{
			TargetTeamSize: 4,
			TokenSecret:    "test-secret",
			TokenMaxAge:    7 * 24 * time.Hour,
			AcceptURLBase:  "https://example.org/confirm?token=",
		},
		Tracks: []config.TrackConfig{
			{Code: "fintech", Label: "金融科技", Capacity: intPtr(1), Open: true, OverflowEligible: true},
			{Code: "smart_city", Label: "智慧城市", Capacity: intPtr(1), Open: true, OverflowEligible: true},
			{Code: "social_good", Label: "社会公益", Open: true},
		},
		Notify: config.NotifyConfig{
			Mode:         "log",
			ContactEmail: "ops@example.org",
		},
	}
}

// notifyCall 一次通知投递的记录
type notifyCall struct {
	Recipients []string
	Template   string
	Data       map[string]string
}

// stubNotifier 记录所有投递调用，供测试断言
type stubNotifier struct {
	calls []notifyCall
	err   error
}

func (s *stubNotifier) Notify(_ context.Context, recipients []string, template string, data map[string]string) (int, error) {
	s.calls = append(s.calls, notifyCall{Recipients: recipients, Template: template, Data: data})
	if s.err != nil {
		return 0, s.err
	}
	return len(recipients), nil
}

// seedTeam 建一支队伍：创建成员、该届次报名记录与成员关系行
func seedTeam(t *testing.T, db *gorm.DB, editionID uint64, code string, memberIDs []uint64, status model.RegistrationStatus) {
	t.Helper()
	for _, id := range memberIDs {
		member := &model.Member{
			ID:          id,
			Email:       fmt.Sprintf("member%d@example.org", id),
			DisplayName: fmt.Sprintf("成员%d", id),
		}
		require.NoError(t, db.Create(member).Error)
		require.NoError(t, db.Create(&model.Registration{
			MemberID:  id,
			EditionID: editionID,
			Status:    status,
		}).Error)
		require.NoError(t, db.Create(&model.TeamCode{
			Code:     code,
			MemberID: id,
		}).Error)
	}
}

// seedPoolEntry 按指定创建时间入池（FIFO 顺序由 created_at 决定）
func seedPoolEntry(t *testing.T, db *gorm.DB, editionID uint64, code string, memberCount int, createdAt time.Time) *model.MergePoolEntry {
	t.Helper()
	entry := &model.MergePoolEntry{
		EditionID:   editionID,
		TeamCode:    code,
		MemberCount: memberCount,
		Status:      model.PoolStatusPending,
		Trigger:     model.TriggerAuto,
		CreatedAt:   createdAt,
	}
	require.NoError(t, db.Create(entry).Error)
	return entry
}

// setTeamPrefs 把三志愿与提交时间写到队伍的所有成员行上
func setTeamPrefs(t *testing.T, db *gorm.DB, code string, prefs [3]string, submittedAt time.Time) {
	t.Helper()
	require.NoError(t, db.Model(&model.TeamCode{}).
		Where("code = ?", code).
		Updates(map[string]interface{}{
			"track_pref_1":            prefs[0],
			"track_pref_2":            prefs[1],
			"track_pref_3":            prefs[2],
			"track_pref_submitted_at": submittedAt,
		}).Error)
}

func teamCodesOf(t *testing.T, db *gorm.DB, memberIDs ...uint64) map[uint64]string {
	t.Helper()
	var rows []*model.TeamCode
	require.NoError(t, db.Where("member_id IN ?", memberIDs).Find(&rows).Error)
	codes := make(map[uint64]string, len(rows))
	for _, row := range rows {
		codes[row.MemberID] = row.Code
	}
	return codes
}
