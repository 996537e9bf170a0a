package model

import (
	"time"

	"gorm.io/datatypes"
)

// MergePoolStatus 合并池条目状态
type MergePoolStatus string

const (
	PoolStatusPending MergePoolStatus = "pending"
	PoolStatusMatched MergePoolStatus = "matched"
	PoolStatusRemoved MergePoolStatus = "removed"
)

// MergeTrigger 入池/撮合触发方式
type MergeTrigger string

const (
	TriggerAuto     MergeTrigger = "auto"
	TriggerManual   MergeTrigger = "manual"
	TriggerDeadline MergeTrigger = "deadline"
)

// MergeEventType 合并审计事件类型
type MergeEventType string

const (
	EventOptIn        MergeEventType = "opt_in"
	EventMatched      MergeEventType = "matched"
	EventRemoved      MergeEventType = "removed"
	EventNotification MergeEventType = "notified"
)

// MergePoolEntry 合并池条目：每 (届次, 队伍码) 至多一条，created_at 决定 FIFO 顺序
type MergePoolEntry struct {
	ID              uint64          `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	EditionID       uint64          `gorm:"column:edition_id;type:bigint;not null;uniqueIndex:uk_edition_team;comment:届次ID"`
	TeamCode        string          `gorm:"column:team_code;type:varchar(13);not null;uniqueIndex:uk_edition_team;comment:队伍码"`
	MemberCount     int             `gorm:"column:member_count;type:int;default:0;comment:有效成员数（每次撮合前重算）"`
	Status          MergePoolStatus `gorm:"column:status;type:varchar(16);not null;default:pending;comment:状态"`
	Trigger         MergeTrigger    `gorm:"column:trigger;type:varchar(16);not null;default:auto;comment:触发方式"`
	MatchedTeamCode string          `gorm:"column:matched_team_code;type:varchar(13);comment:合并入的宿主队伍码"`
	MatchedAt       *time.Time      `gorm:"column:matched_at;type:timestamp;comment:撮合时间"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;type:timestamp;autoUpdateTime;comment:更新时间"`
}

// MergeEventLog 只追加的审计日志，不参与任何控制流
type MergeEventLog struct {
	ID        uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	EntryID   uint64         `gorm:"column:entry_id;type:bigint;index;not null;comment:合并池条目ID"`
	ActorID   *uint64        `gorm:"column:actor_id;type:bigint;comment:操作者ID（可空）"`
	EventType MergeEventType `gorm:"column:event_type;type:varchar(20);not null;comment:事件类型"`
	Message   string         `gorm:"column:message;type:text;comment:说明"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:jsonb;comment:附加数据（成员ID、合并码等）"`
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
}

func (MergePoolEntry) TableName() string { return "merge_pool_entries" }
func (MergeEventLog) TableName() string  { return "merge_event_logs" }
