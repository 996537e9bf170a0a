package repository

import (
	"context"
	"errors"
	"time"

	"TeamMatch/internal/model"

	"gorm.io/gorm"
)

// TeamMemberRow 队伍成员行 + 联表出的邮箱/展示名（通知与排序都要用）
type TeamMemberRow struct {
	ID                   uint64
	Code                 string
	MemberID             uint64
	Email                string
	DisplayName          string
	TrackPref1           string `gorm:"column:track_pref_1"`
	TrackPref2           string `gorm:"column:track_pref_2"`
	TrackPref3           string `gorm:"column:track_pref_3"`
	TrackPrefSubmittedAt *time.Time
	TrackAssigned        string
	TrackAssignedAt      *time.Time
	SeekingMerge         bool
	CreatedAt            time.Time
}

// Preferences 按志愿顺序返回三志愿
func (r *TeamMemberRow) Preferences() [3]string {
	return [3]string{r.TrackPref1, r.TrackPref2, r.TrackPref3}
}

// TeamGroup 一支队伍：同一 code 下的全部成员行（按 id 升序）
type TeamGroup struct {
	Code    string
	Members []*TeamMemberRow
}

// TeamRepository 队伍注册表：成员关系查询与原子改码（合并）操作
type TeamRepository interface {
	MembersByCode(ctx context.Context, code string) ([]*model.TeamCode, error)
	MemberRowsByCode(ctx context.Context, code string) ([]*TeamMemberRow, error)
	CodeByMember(ctx context.Context, memberID uint64) (string, error)
	// CreateMembership code 为空时自动生成新队伍码
	CreateMembership(ctx context.Context, memberID uint64, code string) (*model.TeamCode, error)
	// RewriteCodes 把若干旧队伍码整体改写为宿主码（合并提交的核心一步）
	RewriteCodes(ctx context.Context, oldCodes []string, newCode string) error
	SetSeekingMerge(ctx context.Context, code string, seeking bool, at time.Time) error
	// TeamsAwaitingTrack 未分配且已提交第一志愿的队伍（按 code 排序，成员按 id 升序）
	TeamsAwaitingTrack(ctx context.Context) ([]*TeamGroup, error)
	// AssignedTeams 某赛道下已分配的队伍（按分配时间先后排序）
	AssignedTeams(ctx context.Context, track string) ([]*TeamGroup, error)
	// CountAssignments 每赛道已分配队伍数（按 code 去重），每个批次开始时重算，不做缓存
	CountAssignments(ctx context.Context) (map[string]int, error)
	AssignTrack(ctx context.Context, code string, track string, at time.Time) error
}

type teamRepository struct {
	db *gorm.DB
}

func NewTeamRepository(db *gorm.DB) TeamRepository {
	return &teamRepository{db: db}
}

func (r *teamRepository) MembersByCode(ctx context.Context, code string) ([]*model.TeamCode, error) {
	var rows []*model.TeamCode
	if err := r.db.WithContext(ctx).
		Where("code = ?", code).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

const memberRowSelect = "tc.id, tc.code, tc.member_id, m.email, m.display_name, " +
	"tc.track_pref_1, tc.track_pref_2, tc.track_pref_3, tc.track_pref_submitted_at, " +
	"tc.track_assigned, tc.track_assigned_at, tc.seeking_merge, tc.created_at"

func (r *teamRepository) MemberRowsByCode(ctx context.Context, code string) ([]*TeamMemberRow, error) {
	var rows []*TeamMemberRow
	if err := r.db.WithContext(ctx).
		Table("team_codes AS tc").
		Select(memberRowSelect).
		Joins("JOIN members m ON m.id = tc.member_id").
		Where("tc.code = ?", code).
		Order("tc.id ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *teamRepository) CodeByMember(ctx context.Context, memberID uint64) (string, error) {
	var row model.TeamCode
	err := r.db.WithContext(ctx).
		Select("code").
		Where("member_id = ?", memberID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Code, nil
}

func (r *teamRepository) CreateMembership(ctx context.Context, memberID uint64, code string) (*model.TeamCode, error) {
	row := &model.TeamCode{Code: code, MemberID: memberID}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *teamRepository) RewriteCodes(ctx context.Context, oldCodes []string, newCode string) error {
	if len(oldCodes) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.TeamCode{}).
		Where("code IN ?", oldCodes).
		Update("code", newCode).Error
}

func (r *teamRepository) SetSeekingMerge(ctx context.Context, code string, seeking bool, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.TeamCode{}).
		Where("code = ?", code).
		Updates(map[string]interface{}{
			"seeking_merge":            seeking,
			"seeking_merge_updated_at": at,
		}).Error
}

func (r *teamRepository) TeamsAwaitingTrack(ctx context.Context) ([]*TeamGroup, error) {
	var codes []string
	if err := r.db.WithContext(ctx).
		Model(&model.TeamCode{}).
		Distinct("code").
		Where("(track_assigned = '' OR track_assigned IS NULL) AND track_pref_1 <> '' AND track_pref_1 IS NOT NULL").
		Order("code ASC").
		Pluck("code", &codes).Error; err != nil {
		return nil, err
	}
	return r.groupByCode(ctx, codes, "tc.code ASC, tc.id ASC")
}

func (r *teamRepository) AssignedTeams(ctx context.Context, track string) ([]*TeamGroup, error) {
	var codes []string
	if err := r.db.WithContext(ctx).
		Model(&model.TeamCode{}).
		Distinct("code").
		Where("track_assigned = ?", track).
		Order("code ASC").
		Pluck("code", &codes).Error; err != nil {
		return nil, err
	}
	groups, err := r.groupByCode(ctx, codes, "tc.track_assigned_at ASC, tc.id ASC")
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// groupByCode 批量拉取成员行并按队伍码分组，orderBy 决定组内与组间的行序
func (r *teamRepository) groupByCode(ctx context.Context, codes []string, orderBy string) ([]*TeamGroup, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	var rows []*TeamMemberRow
	if err := r.db.WithContext(ctx).
		Table("team_codes AS tc").
		Select(memberRowSelect).
		Joins("JOIN members m ON m.id = tc.member_id").
		Where("tc.code IN ?", codes).
		Order(orderBy).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	groupIndex := make(map[string]*TeamGroup, len(codes))
	var groups []*TeamGroup
	for _, row := range rows {
		g, ok := groupIndex[row.Code]
		if !ok {
			g = &TeamGroup{Code: row.Code}
			groupIndex[row.Code] = g
			groups = append(groups, g)
		}
		g.Members = append(g.Members, row)
	}
	return groups, nil
}

func (r *teamRepository) CountAssignments(ctx context.Context) (map[string]int, error) {
	type trackCount struct {
		Track string
		N     int
	}
	var rows []trackCount
	if err := r.db.WithContext(ctx).
		Model(&model.TeamCode{}).
		Select("track_assigned AS track, COUNT(DISTINCT code) AS n").
		Where("track_assigned <> '' AND track_assigned IS NOT NULL").
		Group("track_assigned").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Track] = row.N
	}
	return counts, nil
}

func (r *teamRepository) AssignTrack(ctx context.Context, code string, track string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.TeamCode{}).
		Where("code = ?", code).
		Updates(map[string]interface{}{
			"track_assigned":    track,
			"track_assigned_at": at,
		}).Error
}
