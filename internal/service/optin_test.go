package service

import (
	"context"
	"testing"
	"time"

	"TeamMatch/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptInCreatesPoolEntry(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewOptInService(db, newTestLogger(), cfg)
	ctx := context.Background()

	const editionID = 1
	seedTeam(t, db, editionID, "teamAAAAAAAAA", []uint64{1, 2}, model.RegistrationPending)

	token, err := svc.tokens.Issue(1, editionID, "teamAAAAAAAAA")
	require.NoError(t, err)

	result, err := svc.ProcessToken(ctx, token, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, result.Outcome)
	require.NotNil(t, result.Entry)
	assert.Equal(t, "teamAAAAAAAAA", result.Entry.TeamCode)
	assert.Equal(t, 2, result.Entry.MemberCount)
	assert.Equal(t, model.PoolStatusPending, result.Entry.Status)

	// 队伍打上等待合并标记
	var row model.TeamCode
	require.NoError(t, db.Where("member_id = ?", 1).First(&row).Error)
	assert.True(t, row.SeekingMerge)

	// 审计事件落一条 opt_in
	var events int64
	require.NoError(t, db.Model(&model.MergeEventLog{}).
		Where("entry_id = ? AND event_type = ?", result.Entry.ID, model.EventOptIn).
		Count(&events).Error)
	assert.EqualValues(t, 1, events)
}

func TestOptInDuplicateClickIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewOptInService(db, newTestLogger(), cfg)
	ctx := context.Background()

	const editionID = 1
	seedTeam(t, db, editionID, "teamAAAAAAAAA", []uint64{1, 2}, model.RegistrationPending)
	token, err := svc.tokens.Issue(1, editionID, "teamAAAAAAAAA")
	require.NoError(t, err)

	first, err := svc.ProcessToken(ctx, token, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, first.Outcome)

	second, err := svc.ProcessToken(ctx, token, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyInPool, second.Outcome)

	// 不产生第二条池条目，只补一条审计
	var entries int64
	require.NoError(t, db.Model(&model.MergePoolEntry{}).Count(&entries).Error)
	assert.EqualValues(t, 1, entries)
	var events int64
	require.NoError(t, db.Model(&model.MergeEventLog{}).
		Where("event_type = ?", model.EventOptIn).
		Count(&events).Error)
	assert.EqualValues(t, 2, events)
}

func TestOptInInvalidToken(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewOptInService(db, newTestLogger(), cfg)

	result, err := svc.ProcessToken(context.Background(), "garbage", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidLink, result.Outcome)
}

func TestOptInExpiredToken(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewOptInService(db, newTestLogger(), cfg)

	svc.tokens.now = func() time.Time { return time.Now().Add(-8 * 24 * time.Hour) }
	token, err := svc.tokens.Issue(1, 1, "")
	require.NoError(t, err)
	svc.tokens.now = time.Now

	result, err := svc.ProcessToken(context.Background(), token, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidLink, result.Outcome)
}

func TestOptInRejectsFullTeam(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewOptInService(db, newTestLogger(), cfg)
	ctx := context.Background()

	const editionID = 1
	seedTeam(t, db, editionID, "teamFULLAAAAA", []uint64{1, 2, 3, 4}, model.RegistrationPending)
	token, err := svc.tokens.Issue(1, editionID, "teamFULLAAAAA")
	require.NoError(t, err)

	result, err := svc.ProcessToken(ctx, token, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTeamTooLarge, result.Outcome)

	var entries int64
	require.NoError(t, db.Model(&model.MergePoolEntry{}).Count(&entries).Error)
	assert.Zero(t, entries)
}

func TestOptInRejectsNonPendingTeam(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewOptInService(db, newTestLogger(), cfg)
	ctx := context.Background()

	const editionID = 1
	seedTeam(t, db, editionID, "teamAAAAAAAAA", []uint64{1, 2}, model.RegistrationConfirmed)
	token, err := svc.tokens.Issue(1, editionID, "teamAAAAAAAAA")
	require.NoError(t, err)

	result, err := svc.ProcessToken(ctx, token, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotEligible, result.Outcome)
}

func TestOptInRejectsAlreadyMatchedTeam(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewOptInService(db, newTestLogger(), cfg)
	ctx := context.Background()

	const editionID = 1
	seedTeam(t, db, editionID, "teamAAAAAAAAA", []uint64{1, 2}, model.RegistrationPending)
	matchedAt := time.Now().Add(-time.Minute)
	require.NoError(t, db.Create(&model.MergePoolEntry{
		EditionID:       editionID,
		TeamCode:        "teamAAAAAAAAA",
		MemberCount:     2,
		Status:          model.PoolStatusMatched,
		Trigger:         model.TriggerAuto,
		MatchedTeamCode: "teamAAAAAAAAA",
		MatchedAt:       &matchedAt,
	}).Error)

	token, err := svc.tokens.Issue(1, editionID, "teamAAAAAAAAA")
	require.NoError(t, err)
	result, err := svc.ProcessToken(ctx, token, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyMatched, result.Outcome)

	// 不产生新条目，不重新打等待合并标记，不补审计
	var entries int64
	require.NoError(t, db.Model(&model.MergePoolEntry{}).Count(&entries).Error)
	assert.EqualValues(t, 1, entries)
	var seeking int64
	require.NoError(t, db.Model(&model.TeamCode{}).Where("seeking_merge = ?", true).Count(&seeking).Error)
	assert.Zero(t, seeking)
	var events int64
	require.NoError(t, db.Model(&model.MergeEventLog{}).Count(&events).Error)
	assert.Zero(t, events)
}

func TestOptInMemberGone(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewOptInService(db, newTestLogger(), cfg)

	token, err := svc.tokens.Issue(999, 1, "")
	require.NoError(t, err)

	result, err := svc.ProcessToken(context.Background(), token, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMemberGone, result.Outcome)
}

func TestOptInSoloMemberGetsNewTeam(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewOptInService(db, newTestLogger(), cfg)
	ctx := context.Background()

	const editionID = 1
	require.NoError(t, db.Create(&model.Member{ID: 1, Email: "solo@example.org", DisplayName: "散人"}).Error)
	require.NoError(t, db.Create(&model.Registration{MemberID: 1, EditionID: editionID, Status: model.RegistrationPending}).Error)

	// 令牌无队伍码快照，成员也无归属，应自动建单人队伍后入池
	token, err := svc.tokens.Issue(1, editionID, "")
	require.NoError(t, err)
	result, err := svc.ProcessToken(ctx, token, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, result.Outcome)

	var row model.TeamCode
	require.NoError(t, db.Where("member_id = ?", 1).First(&row).Error)
	assert.Len(t, row.Code, model.CodeLength)
	assert.Equal(t, row.Code, result.Entry.TeamCode)
	assert.Equal(t, 1, result.Entry.MemberCount)
}
