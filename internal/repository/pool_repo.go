package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TeamMatch/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MergePoolRepository 合并池与审计日志仓储
type MergePoolRepository interface {
	// GetEntry 不存在时返回 (nil, nil)
	GetEntry(ctx context.Context, editionID uint64, teamCode string) (*model.MergePoolEntry, error)
	// ListPending 按 created_at 升序（FIFO）返回待撮合条目
	ListPending(ctx context.Context, editionID uint64) ([]*model.MergePoolEntry, error)
	ListEntries(ctx context.Context, editionID uint64, status model.MergePoolStatus) ([]*model.MergePoolEntry, error)
	// UpsertPending 以 (edition_id, team_code) 为冲突键的幂等入池
	UpsertPending(ctx context.Context, editionID uint64, teamCode string, memberCount int, trigger model.MergeTrigger) (*model.MergePoolEntry, error)
	MarkMatched(ctx context.Context, entry *model.MergePoolEntry, memberCount int, hostCode string, trigger model.MergeTrigger, at time.Time) error
	MarkRemoved(ctx context.Context, entry *model.MergePoolEntry) error
	AppendEvent(ctx context.Context, entryID uint64, actorID *uint64, eventType model.MergeEventType, message string, metadata map[string]interface{}) error
	ListEvents(ctx context.Context, entryID uint64) ([]*model.MergeEventLog, error)
}

type mergePoolRepository struct {
	db *gorm.DB
}

func NewMergePoolRepository(db *gorm.DB) MergePoolRepository {
	return &mergePoolRepository{db: db}
}

func (r *mergePoolRepository) GetEntry(ctx context.Context, editionID uint64, teamCode string) (*model.MergePoolEntry, error) {
	var entry model.MergePoolEntry
	err := r.db.WithContext(ctx).
		Where("edition_id = ? AND team_code = ?", editionID, teamCode).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *mergePoolRepository) ListPending(ctx context.Context, editionID uint64) ([]*model.MergePoolEntry, error) {
	return r.listByStatus(ctx, editionID, model.PoolStatusPending)
}

func (r *mergePoolRepository) ListEntries(ctx context.Context, editionID uint64, status model.MergePoolStatus) ([]*model.MergePoolEntry, error) {
	if status == "" {
		var entries []*model.MergePoolEntry
		err := r.db.WithContext(ctx).
			Where("edition_id = ?", editionID).
			Order("created_at ASC, id ASC").
			Find(&entries).Error
		return entries, err
	}
	return r.listByStatus(ctx, editionID, status)
}

func (r *mergePoolRepository) listByStatus(ctx context.Context, editionID uint64, status model.MergePoolStatus) ([]*model.MergePoolEntry, error) {
	var entries []*model.MergePoolEntry
	err := r.db.WithContext(ctx).
		Where("edition_id = ? AND status = ?", editionID, status).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *mergePoolRepository) UpsertPending(ctx context.Context, editionID uint64, teamCode string, memberCount int, trigger model.MergeTrigger) (*model.MergePoolEntry, error) {
	entry := &model.MergePoolEntry{
		EditionID:       editionID,
		TeamCode:        teamCode,
		MemberCount:     memberCount,
		Status:          model.PoolStatusPending,
		Trigger:         trigger,
		MatchedTeamCode: "",
		MatchedAt:       nil,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "edition_id"}, {Name: "team_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"member_count", "status", "trigger", "matched_team_code", "matched_at", "updated_at"}),
	}).Create(entry).Error; err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		if err := r.db.WithContext(ctx).
			Where("edition_id = ? AND team_code = ?", editionID, teamCode).
			First(entry).Error; err != nil {
			return nil, err
		}
	}
	return entry, nil
}

func (r *mergePoolRepository) MarkMatched(ctx context.Context, entry *model.MergePoolEntry, memberCount int, hostCode string, trigger model.MergeTrigger, at time.Time) error {
	entry.MemberCount = memberCount
	entry.Status = model.PoolStatusMatched
	entry.MatchedTeamCode = hostCode
	entry.MatchedAt = &at
	entry.Trigger = trigger
	return r.db.WithContext(ctx).
		Model(entry).
		Select("member_count", "status", "matched_team_code", "matched_at", "trigger", "updated_at").
		Updates(entry).Error
}

func (r *mergePoolRepository) MarkRemoved(ctx context.Context, entry *model.MergePoolEntry) error {
	entry.Status = model.PoolStatusRemoved
	return r.db.WithContext(ctx).
		Model(entry).
		Select("status", "updated_at").
		Updates(entry).Error
}

func (r *mergePoolRepository) AppendEvent(ctx context.Context, entryID uint64, actorID *uint64, eventType model.MergeEventType, message string, metadata map[string]interface{}) error {
	event := &model.MergeEventLog{
		EntryID:   entryID,
		ActorID:   actorID,
		EventType: eventType,
		Message:   message,
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("序列化审计元数据失败: %w", err)
		}
		event.Metadata = raw
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *mergePoolRepository) ListEvents(ctx context.Context, entryID uint64) ([]*model.MergeEventLog, error) {
	var events []*model.MergeEventLog
	err := r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	return events, err
}
