package service

import (
	"context"
	"sort"
	"time"

	"TeamMatch/internal/config"
	"TeamMatch/internal/interfaces"
	"TeamMatch/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 分配/再平衡批次中跳过队伍的原因码
const (
	SkipNoCapacity         = "no_capacity"
	SkipMissingPreferences = "missing_preferences"
	SkipNotEligible        = "not_eligible"
	SkipNoAlternative      = "no_alternative"
)

// Assignment 一条赛道分配结果
type Assignment struct {
	TeamCode       string    `json:"team_code"`
	TrackCode      string    `json:"track_code"`
	TrackLabel     string    `json:"track_label"`
	PreferenceUsed int       `json:"preference_used"` // 用到第几志愿（1~3）
	TeamSize       int       `json:"team_size"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// SkippedTeam 未能处理的队伍及原因
type SkippedTeam struct {
	TeamCode string `json:"team_code"`
	Reason   string `json:"reason"`
}

// AssignOptions 分配批次参数
type AssignOptions struct {
	EditionID  uint64 // 资格核验按该届次判定
	DryRun     bool   // 只预览，不落库不通知
	Limit      int    // 本批次最多分配的队伍数（0=不限）
	SkipNotify bool   // 分配成功后不发通知
}

// trackCandidate 一支待分配队伍：按志愿提交时间（并列比最小成员ID）排序处理
type trackCandidate struct {
	code        string
	preferences [3]string
	members     []*repository.TeamMemberRow
	submittedAt time.Time
	minMemberID uint64
}

// TrackAssignmentService 赛道分配批次：按提交顺序消费志愿，容量内承诺第一可行志愿。
// 各赛道计数每批次从分配行重算，绝不跨批次缓存
type TrackAssignmentService struct {
	db          *gorm.DB
	logger      *logrus.Logger
	cfg         *config.Config
	teamRepo    repository.TeamRepository
	eligibility *EligibilityService
	notifier    interfaces.Notifier
	now         func() time.Time
}

func NewTrackAssignmentService(db *gorm.DB, logger *logrus.Logger, cfg *config.Config, notifier interfaces.Notifier) *TrackAssignmentService {
	return &TrackAssignmentService{
		db:          db,
		logger:      logger,
		cfg:         cfg,
		teamRepo:    repository.NewTeamRepository(db),
		eligibility: NewEligibilityService(db),
		notifier:    notifier,
		now:         time.Now,
	}
}

// Run 执行一次分配批次，返回分配列表与跳过列表。容量耗尽不是错误，
// 未分配的队伍原样留给下个批次
func (s *TrackAssignmentService) Run(ctx context.Context, opts AssignOptions) ([]Assignment, []SkippedTeam, error) {
	groups, err := s.teamRepo.TeamsAwaitingTrack(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(groups) == 0 {
		return nil, nil, nil
	}

	candidates, skipped, err := s.buildCandidates(ctx, groups, opts.EditionID)
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		return nil, skipped, nil
	}

	capacities := s.cfg.TrackCapacities()
	labels := s.cfg.TrackLabels()
	counts, err := s.teamRepo.CountAssignments(ctx)
	if err != nil {
		return nil, nil, err
	}

	var assignments []Assignment
	for _, candidate := range candidates {
		if opts.Limit > 0 && len(assignments) >= opts.Limit {
			break
		}

		track, prefUsed := pickTrack(candidate.preferences, counts, capacities)
		if track == "" {
			skipped = append(skipped, SkippedTeam{TeamCode: candidate.code, Reason: SkipNoCapacity})
			continue
		}

		label := labels[track]
		if label == "" {
			label = track
		}
		assignments = append(assignments, Assignment{
			TeamCode:       candidate.code,
			TrackCode:      track,
			TrackLabel:     label,
			PreferenceUsed: prefUsed,
			TeamSize:       len(candidate.members),
			SubmittedAt:    candidate.submittedAt,
		})

		if opts.DryRun {
			continue
		}

		timestamp := s.now()
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return repository.NewTeamRepository(tx).AssignTrack(ctx, candidate.code, track, timestamp)
		})
		if err != nil {
			return assignments, skipped, err
		}

		if !opts.SkipNotify {
			s.notifyAssigned(ctx, candidate, track, label)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"assigned": len(assignments),
		"skipped":  len(skipped),
		"dry_run":  opts.DryRun,
	}).Info("赛道分配批次完成")
	return assignments, skipped, nil
}

// buildCandidates 过滤并排序候选队伍。必填志愿数随开放赛道数退化：min(3, 开放数)
func (s *TrackAssignmentService) buildCandidates(ctx context.Context, groups []*repository.TeamGroup, editionID uint64) ([]*trackCandidate, []SkippedTeam, error) {
	required := s.cfg.OpenTrackCount()
	if required > 3 {
		required = 3
	}
	targetSize := s.cfg.Merge.TargetTeamSize

	var candidates []*trackCandidate
	var skipped []SkippedTeam
	for _, group := range groups {
		if len(group.Members) == 0 {
			continue
		}
		representative := group.Members[0]
		prefs := representative.Preferences()
		if !hasRequiredPreferences(prefs, required) {
			skipped = append(skipped, SkippedTeam{TeamCode: group.Code, Reason: SkipMissingPreferences})
			continue
		}
		confirmed, err := s.eligibility.TeamConfirmed(ctx, group.Code, editionID, targetSize)
		if err != nil {
			return nil, nil, err
		}
		if !confirmed {
			skipped = append(skipped, SkippedTeam{TeamCode: group.Code, Reason: SkipNotEligible})
			continue
		}

		candidates = append(candidates, &trackCandidate{
			code:        group.Code,
			preferences: prefs,
			members:     group.Members,
			submittedAt: s.submissionTime(group.Members),
			minMemberID: minMemberID(group.Members),
		})
	}

	// 先到先得：提交时间升序，并列时最小成员ID在前
	sortCandidates(candidates)
	return candidates, skipped, nil
}

// hasRequiredPreferences 前 required 个志愿均已填写且两两不同
func hasRequiredPreferences(prefs [3]string, required int) bool {
	seen := make(map[string]bool, required)
	for i := 0; i < required && i < 3; i++ {
		if prefs[i] == "" || seen[prefs[i]] {
			return false
		}
		seen[prefs[i]] = true
	}
	return true
}

// submissionTime 代表行的提交时间，缺失时退化到成员最早提交时间 / 最早建队时间
func (s *TrackAssignmentService) submissionTime(members []*repository.TeamMemberRow) time.Time {
	if members[0].TrackPrefSubmittedAt != nil {
		return *members[0].TrackPrefSubmittedAt
	}
	var earliest *time.Time
	for _, m := range members {
		if m.TrackPrefSubmittedAt != nil && (earliest == nil || m.TrackPrefSubmittedAt.Before(*earliest)) {
			earliest = m.TrackPrefSubmittedAt
		}
	}
	if earliest != nil {
		return *earliest
	}
	created := members[0].CreatedAt
	for _, m := range members {
		if m.CreatedAt.Before(created) {
			created = m.CreatedAt
		}
	}
	if !created.IsZero() {
		return created
	}
	return s.now()
}

func minMemberID(members []*repository.TeamMemberRow) uint64 {
	min := members[0].MemberID
	for _, m := range members {
		if m.MemberID < min {
			min = m.MemberID
		}
	}
	return min
}

func sortCandidates(candidates []*trackCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.submittedAt.Equal(b.submittedAt) {
			return a.submittedAt.Before(b.submittedAt)
		}
		return a.minMemberID < b.minMemberID
	})
}

// pickTrack 按志愿顺序取第一个计数仍低于容量的赛道（容量为 nil 视为不限），
// 命中后同步推进本批次运行计数。容量表中不存在的赛道标识视为过期志愿直接跳过，
// 不按不限容量处理，防止志愿里的陈旧值绕过容量配置
func pickTrack(preferences [3]string, counts map[string]int, capacities map[string]*int) (string, int) {
	for idx, preference := range preferences {
		if preference == "" {
			continue
		}
		capacity, known := capacities[preference]
		if !known {
			continue
		}
		if capacity == nil || counts[preference] < *capacity {
			counts[preference]++
			return preference, idx + 1
		}
	}
	return "", 0
}

func (s *TrackAssignmentService) notifyAssigned(ctx context.Context, candidate *trackCandidate, track, label string) {
	recipients := collectEmails(candidate.members)
	if len(recipients) == 0 {
		return
	}
	if _, err := s.notifier.Notify(ctx, recipients, interfaces.TemplateTrackAssigned, map[string]string{
		"team_code":     candidate.code,
		"track":         label,
		"track_code":    track,
		"contact_email": s.cfg.Notify.ContactEmail,
	}); err != nil {
		s.logger.WithError(err).WithField("team_code", candidate.code).Warn("赛道分配通知投递失败")
	}
}

// collectEmails 去重收集成员邮箱，保持行序
func collectEmails(members []*repository.TeamMemberRow) []string {
	seen := make(map[string]bool, len(members))
	var emails []string
	for _, m := range members {
		if m.Email == "" || seen[m.Email] {
			continue
		}
		seen[m.Email] = true
		emails = append(emails, m.Email)
	}
	return emails
}
