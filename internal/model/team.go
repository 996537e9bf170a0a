package model

import (
	"math/rand"
	"strings"
	"time"

	"gorm.io/gorm"
)

// CodeLength 队伍码固定长度
const CodeLength = 13

const codeCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var codeRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// NewTeamCodeString 生成随机队伍码（大小写字母+数字）
func NewTeamCodeString() string {
	var sb strings.Builder
	sb.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		sb.WriteByte(codeCharset[codeRand.Intn(len(codeCharset))])
	}
	return sb.String()
}

// TeamCode 队伍成员关系：每行一个成员，同一 code 的所有行构成一支队伍。
// 赛道志愿与分配结果挂在成员行上，以 code 的首个成员行为代表（与取数逻辑约定一致）。
type TeamCode struct {
	ID       uint64 `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Code     string `gorm:"column:code;type:varchar(13);index;not null;comment:队伍码"`
	MemberID uint64 `gorm:"column:member_id;type:bigint;uniqueIndex;not null;comment:参赛者ID"`

	DevpostURL *string `gorm:"column:devpost_url;type:varchar(256);comment:Devpost 作品链接"`

	// 赛道三志愿（两两不同），提交时间用于分配排序
	TrackPref1           string     `gorm:"column:track_pref_1;type:varchar(40);comment:第一志愿赛道"`
	TrackPref2           string     `gorm:"column:track_pref_2;type:varchar(40);comment:第二志愿赛道"`
	TrackPref3           string     `gorm:"column:track_pref_3;type:varchar(40);comment:第三志愿赛道"`
	TrackPrefSubmittedAt *time.Time `gorm:"column:track_pref_submitted_at;type:timestamp;comment:志愿提交时间"`

	// 分配结果只允许再平衡流程改写，分配流程只写入未分配的队伍
	TrackAssigned   string     `gorm:"column:track_assigned;type:varchar(40);index;comment:已分配赛道"`
	TrackAssignedAt *time.Time `gorm:"column:track_assigned_at;type:timestamp;comment:分配时间"`

	SeekingMerge          bool       `gorm:"column:seeking_merge;type:boolean;default:false;comment:是否在等待合并"`
	SeekingMergeUpdatedAt *time.Time `gorm:"column:seeking_merge_updated_at;type:timestamp;comment:合并状态更新时间"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;autoUpdateTime;comment:更新时间"`
}

func (TeamCode) TableName() string { return "team_codes" }

// BeforeCreate 未指定队伍码时自动生成
func (t *TeamCode) BeforeCreate(tx *gorm.DB) error {
	if t.Code == "" {
		t.Code = NewTeamCodeString()
	}
	return nil
}

// Preferences 按志愿顺序返回三志愿
func (t *TeamCode) Preferences() [3]string {
	return [3]string{t.TrackPref1, t.TrackPref2, t.TrackPref3}
}
