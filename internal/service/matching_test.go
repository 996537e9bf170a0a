package service

import (
	"context"
	"testing"
	"time"

	"TeamMatch/internal/interfaces"
	"TeamMatch/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMatchGroupsTargetFour(t *testing.T) {
	tests := []struct {
		name   string
		codes  []string
		counts map[string]int
		want   [][]string
	}{
		{
			name:   "三加一优先于二加二",
			codes:  []string{"a2", "b2", "c3", "d1"},
			counts: map[string]int{"a2": 2, "b2": 2, "c3": 3, "d1": 1},
			want:   [][]string{{"c3", "d1"}, {"a2", "b2"}},
		},
		{
			name:   "两支二人队合并",
			codes:  []string{"a2", "b2"},
			counts: map[string]int{"a2": 2, "b2": 2},
			want:   [][]string{{"a2", "b2"}},
		},
		{
			name:   "二加一加一",
			codes:  []string{"a2", "b1", "c1"},
			counts: map[string]int{"a2": 2, "b1": 1, "c1": 1},
			want:   [][]string{{"a2", "b1", "c1"}},
		},
		{
			name:   "四支单人队",
			codes:  []string{"a1", "b1", "c1", "d1"},
			counts: map[string]int{"a1": 1, "b1": 1, "c1": 1, "d1": 1},
			want:   [][]string{{"a1", "b1", "c1", "d1"}},
		},
		{
			name:   "桶内按入池先后取队",
			codes:  []string{"late3", "early1", "early3", "late1"},
			counts: map[string]int{"late3": 3, "early1": 1, "early3": 3, "late1": 1},
			want:   [][]string{{"late3", "early1"}, {"early3", "late1"}},
		},
		{
			name:   "凑不满则保留待撮合",
			codes:  []string{"a3", "b2"},
			counts: map[string]int{"a3": 3, "b2": 2},
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, used := buildMatchGroups(tt.codes, tt.counts, 4)
			assert.Equal(t, tt.want, groups)
			for _, group := range tt.want {
				for _, code := range group {
					assert.True(t, used[code])
				}
			}
		})
	}
}

func TestBuildMatchGroupsTargetThree(t *testing.T) {
	codes := []string{"a3", "b2", "c1", "d1", "e1", "f1"}
	counts := map[string]int{"a3": 3, "b2": 2, "c1": 1, "d1": 1, "e1": 1, "f1": 1}

	groups, _ := buildMatchGroups(codes, counts, 3)
	// 规模3单独收口，其次 2+1，剩下的单人队凑3
	assert.Equal(t, [][]string{{"a3"}, {"b2", "c1"}, {"d1", "e1", "f1"}}, groups)
}

func TestMatchingRunMergesTwoPairs(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	notifier := &stubNotifier{}
	svc := NewMatchingService(db, newTestLogger(), cfg, notifier)
	ctx := context.Background()

	const editionID = 1
	base := time.Now().Add(-time.Hour)
	seedTeam(t, db, editionID, "teamAAAAAAAAA", []uint64{1, 2}, model.RegistrationPending)
	seedTeam(t, db, editionID, "teamBBBBBBBBB", []uint64{3, 4}, model.RegistrationPending)
	seedPoolEntry(t, db, editionID, "teamAAAAAAAAA", 2, base)
	seedPoolEntry(t, db, editionID, "teamBBBBBBBBB", 2, base.Add(time.Minute))

	results, err := svc.Run(ctx, editionID, false, model.TriggerManual)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// 规模并列时宿主取入池更早的队伍
	assert.Equal(t, "teamAAAAAAAAA", results[0].TeamCode)
	assert.ElementsMatch(t, []uint64{1, 2, 3, 4}, results[0].MemberIDs)

	// 全体成员改写到宿主码
	codes := teamCodesOf(t, db, 1, 2, 3, 4)
	for id := uint64(1); id <= 4; id++ {
		assert.Equal(t, "teamAAAAAAAAA", codes[id])
	}

	// 两条池条目均置为 matched，记录宿主码
	var entries []*model.MergePoolEntry
	require.NoError(t, db.Order("id ASC").Find(&entries).Error)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, model.PoolStatusMatched, entry.Status)
		assert.Equal(t, "teamAAAAAAAAA", entry.MatchedTeamCode)
		assert.NotNil(t, entry.MatchedAt)
	}

	// 等待合并标记清除
	var seeking int64
	require.NoError(t, db.Model(&model.TeamCode{}).Where("seeking_merge = ?", true).Count(&seeking).Error)
	assert.Zero(t, seeking)

	// 合并确认通知恰好一封，覆盖全部成员
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, interfaces.TemplateMergeConfirmed, notifier.calls[0].Template)
	assert.Len(t, notifier.calls[0].Recipients, 4)

	// 每条目一条 matched 事件 + 一条 notified 事件
	var matched, notified int64
	require.NoError(t, db.Model(&model.MergeEventLog{}).Where("event_type = ?", model.EventMatched).Count(&matched).Error)
	require.NoError(t, db.Model(&model.MergeEventLog{}).Where("event_type = ?", model.EventNotification).Count(&notified).Error)
	assert.EqualValues(t, 2, matched)
	assert.EqualValues(t, 2, notified)
}

func TestMatchingRunIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	notifier := &stubNotifier{}
	svc := NewMatchingService(db, newTestLogger(), cfg, notifier)
	ctx := context.Background()

	const editionID = 1
	base := time.Now().Add(-time.Hour)
	seedTeam(t, db, editionID, "teamAAAAAAAAA", []uint64{1, 2}, model.RegistrationPending)
	seedTeam(t, db, editionID, "teamBBBBBBBBB", []uint64{3, 4}, model.RegistrationPending)
	seedPoolEntry(t, db, editionID, "teamAAAAAAAAA", 2, base)
	seedPoolEntry(t, db, editionID, "teamBBBBBBBBB", 2, base.Add(time.Minute))

	first, err := svc.Run(ctx, editionID, false, model.TriggerManual)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.Run(ctx, editionID, false, model.TriggerManual)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, notifier.calls, 1)
}

func TestMatchingRunRemovesIneligibleEntry(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	notifier := &stubNotifier{}
	svc := NewMatchingService(db, newTestLogger(), cfg, notifier)
	ctx := context.Background()

	const editionID = 1
	base := time.Now().Add(-time.Hour)
	// teamB 的成员报名已取消，撮合前重算时应被移出
	seedTeam(t, db, editionID, "teamAAAAAAAAA", []uint64{1, 2}, model.RegistrationPending)
	seedTeam(t, db, editionID, "teamBBBBBBBBB", []uint64{3, 4}, model.RegistrationCancelled)
	entryB := seedPoolEntry(t, db, editionID, "teamBBBBBBBBB", 2, base)
	seedPoolEntry(t, db, editionID, "teamAAAAAAAAA", 2, base.Add(time.Minute))

	results, err := svc.Run(ctx, editionID, false, model.TriggerManual)
	require.NoError(t, err)
	assert.Empty(t, results)

	var reloaded model.MergePoolEntry
	require.NoError(t, db.First(&reloaded, entryB.ID).Error)
	assert.Equal(t, model.PoolStatusRemoved, reloaded.Status)

	var removedEvents int64
	require.NoError(t, db.Model(&model.MergeEventLog{}).
		Where("entry_id = ? AND event_type = ?", entryB.ID, model.EventRemoved).
		Count(&removedEvents).Error)
	assert.EqualValues(t, 1, removedEvents)

	// teamA 原样留在池中等待下个批次
	var entryA model.MergePoolEntry
	require.NoError(t, db.Where("team_code = ?", "teamAAAAAAAAA").First(&entryA).Error)
	assert.Equal(t, model.PoolStatusPending, entryA.Status)
}

func TestMergeGroupAbortsWhenTeamLosesEligibilityAtCommit(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	notifier := &stubNotifier{}
	svc := NewMatchingService(db, newTestLogger(), cfg, notifier)
	ctx := context.Background()

	const editionID = 1
	base := time.Now().Add(-time.Hour)
	seedTeam(t, db, editionID, "teamAAAAAAAAA", []uint64{1, 2}, model.RegistrationPending)
	seedTeam(t, db, editionID, "teamBBBBBBBBB", []uint64{3, 4}, model.RegistrationPending)
	entryA := seedPoolEntry(t, db, editionID, "teamAAAAAAAAA", 2, base)
	entryB := seedPoolEntry(t, db, editionID, "teamBBBBBBBBB", 2, base.Add(time.Minute))

	// 成组之后、提交之前 teamB 全员取消报名
	require.NoError(t, db.Model(&model.Registration{}).
		Where("member_id IN ?", []uint64{3, 4}).
		Update("status", model.RegistrationCancelled).Error)

	result, err := svc.mergeGroup(ctx, []*model.MergePoolEntry{entryA, entryB}, editionID, model.TriggerManual)
	require.NoError(t, err)
	assert.Nil(t, result)

	// 失格方移出并落审计，同组其余条目原样留在池中
	var reloadedB model.MergePoolEntry
	require.NoError(t, db.First(&reloadedB, entryB.ID).Error)
	assert.Equal(t, model.PoolStatusRemoved, reloadedB.Status)
	var removedEvents int64
	require.NoError(t, db.Model(&model.MergeEventLog{}).
		Where("entry_id = ? AND event_type = ?", entryB.ID, model.EventRemoved).
		Count(&removedEvents).Error)
	assert.EqualValues(t, 1, removedEvents)

	var reloadedA model.MergePoolEntry
	require.NoError(t, db.First(&reloadedA, entryA.ID).Error)
	assert.Equal(t, model.PoolStatusPending, reloadedA.Status)

	// 队伍码不改写，通知不发出
	codes := teamCodesOf(t, db, 1, 2, 3, 4)
	assert.Equal(t, "teamAAAAAAAAA", codes[1])
	assert.Equal(t, "teamAAAAAAAAA", codes[2])
	assert.Equal(t, "teamBBBBBBBBB", codes[3])
	assert.Equal(t, "teamBBBBBBBBB", codes[4])
	assert.Empty(t, notifier.calls)
}

func TestMatchingRunDeadlineModeAllowsSizeThree(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	notifier := &stubNotifier{}
	svc := NewMatchingService(db, newTestLogger(), cfg, notifier)
	ctx := context.Background()

	const editionID = 1
	base := time.Now().Add(-time.Hour)
	seedTeam(t, db, editionID, "soloAAAAAAAAA", []uint64{1}, model.RegistrationPending)
	seedTeam(t, db, editionID, "soloBBBBBBBBB", []uint64{2}, model.RegistrationPending)
	seedTeam(t, db, editionID, "soloCCCCCCCCC", []uint64{3}, model.RegistrationPending)
	seedPoolEntry(t, db, editionID, "soloAAAAAAAAA", 1, base)
	seedPoolEntry(t, db, editionID, "soloBBBBBBBBB", 1, base.Add(time.Minute))
	seedPoolEntry(t, db, editionID, "soloCCCCCCCCC", 1, base.Add(2*time.Minute))

	// 常规批次凑不满4人，不动
	results, err := svc.Run(ctx, editionID, false, model.TriggerManual)
	require.NoError(t, err)
	assert.Empty(t, results)

	// 截止期模式放宽到3人
	results, err = svc.Run(ctx, editionID, true, model.TriggerDeadline)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.TriggerDeadline, results[0].Trigger)
	assert.ElementsMatch(t, []uint64{1, 2, 3}, results[0].MemberIDs)
}
