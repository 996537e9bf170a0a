package model

import (
	"time"
)

// RegistrationStatus 报名状态（由外部报名系统维护，本引擎只读）
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationInvited   RegistrationStatus = "invited"
	RegistrationAttended  RegistrationStatus = "attended"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

// Edition 黑客松届次（如 2025 届），合并池与报名均按届次隔离
type Edition struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Name      string    `gorm:"column:name;type:varchar(64);uniqueIndex;not null;comment:届次名称"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
}

// Member 参赛者（来源于注册系统，本引擎只读邮箱与展示名）
type Member struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Email       string    `gorm:"column:email;type:varchar(128);uniqueIndex;not null;comment:邮箱"`
	DisplayName string    `gorm:"column:display_name;type:varchar(128);comment:展示名"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
}

// Registration 某届次的报名记录；合并资格要求全队成员该届次状态均为 pending
type Registration struct {
	ID          uint64             `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	MemberID    uint64             `gorm:"column:member_id;type:bigint;not null;uniqueIndex:uk_member_edition;comment:参赛者ID"`
	EditionID   uint64             `gorm:"column:edition_id;type:bigint;not null;uniqueIndex:uk_member_edition;comment:届次ID"`
	Status      RegistrationStatus `gorm:"column:status;type:varchar(16);not null;default:pending;comment:报名状态"`
	SubmittedAt time.Time          `gorm:"column:submitted_at;type:timestamp;autoCreateTime;comment:提交时间"`
}

func (Edition) TableName() string      { return "editions" }
func (Member) TableName() string       { return "members" }
func (Registration) TableName() string { return "registrations" }
