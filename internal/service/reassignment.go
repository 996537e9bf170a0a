package service

import (
	"context"
	"math/rand"
	"time"

	"TeamMatch/internal/config"
	"TeamMatch/internal/interfaces"
	"TeamMatch/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Reassignment 一条超员迁移结果
type Reassignment struct {
	TeamCode       string `json:"team_code"`
	OldTrack       string `json:"old_track"`
	OldTrackLabel  string `json:"old_track_label"`
	NewTrack       string `json:"new_track"`
	NewTrackLabel  string `json:"new_track_label"`
	PreferenceUsed int    `json:"preference_used"` // 2 或 3
	TeamSize       int    `json:"team_size"`
}

// ReassignOptions 再平衡批次参数
type ReassignOptions struct {
	DryRun     bool
	SkipNotify bool
}

// TrackReassignmentService 超员再平衡：赞助商把某赛道容量调低到已分配数以下后，
// 从该赛道随机抽取超出部分迁往备选志愿。随机而非按时间/规模挑选是有意设计：
// 谁被迁走没有天然的公平顺序，公平性交给等概率抽取
type TrackReassignmentService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	cfg      *config.Config
	teamRepo repository.TeamRepository
	notifier interfaces.Notifier
	rng      *rand.Rand
	now      func() time.Time
}

// NewTrackReassignmentService rng 可传 nil，表示用时间种子；测试时注入固定种子以复现抽取
func NewTrackReassignmentService(db *gorm.DB, logger *logrus.Logger, cfg *config.Config, notifier interfaces.Notifier, rng *rand.Rand) *TrackReassignmentService {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &TrackReassignmentService{
		db:       db,
		logger:   logger,
		cfg:      cfg,
		teamRepo: repository.NewTeamRepository(db),
		notifier: notifier,
		rng:      rng,
		now:      time.Now,
	}
}

// Run 对每个参与再平衡且超员的赛道，迁出 max(0, 已分配-容量) 支随机队伍。
// 备选只考虑第二、三志愿中不属于再平衡集合的赛道，逐队提交
func (s *TrackReassignmentService) Run(ctx context.Context, opts ReassignOptions) ([]Reassignment, []SkippedTeam, error) {
	capacities := s.cfg.TrackCapacities()
	labels := s.cfg.TrackLabels()
	overflowSet := s.cfg.OverflowEligibleSet()

	counts, err := s.teamRepo.CountAssignments(ctx)
	if err != nil {
		return nil, nil, err
	}

	var reassignments []Reassignment
	var skipped []SkippedTeam
	for _, track := range s.cfg.Tracks {
		if !track.OverflowEligible || track.Capacity == nil {
			continue
		}
		overflow := counts[track.Code] - *track.Capacity
		if overflow <= 0 {
			continue
		}

		groups, err := s.teamRepo.AssignedTeams(ctx, track.Code)
		if err != nil {
			return reassignments, skipped, err
		}
		if overflow > len(groups) {
			overflow = len(groups)
		}

		// 等概率抽取 overflow 支队伍；底层列表顺序确定，种子固定时抽取可复现
		perm := s.rng.Perm(len(groups))
		selected := make([]*repository.TeamGroup, 0, overflow)
		for _, idx := range perm[:overflow] {
			selected = append(selected, groups[idx])
		}

		for _, group := range selected {
			result, reason, err := s.relocate(ctx, group, track.Code, counts, capacities, labels, overflowSet, opts)
			if err != nil {
				return reassignments, skipped, err
			}
			if reason != "" {
				skipped = append(skipped, SkippedTeam{TeamCode: group.Code, Reason: reason})
				continue
			}
			reassignments = append(reassignments, *result)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"reassigned": len(reassignments),
		"skipped":    len(skipped),
		"dry_run":    opts.DryRun,
	}).Info("赛道再平衡批次完成")
	return reassignments, skipped, nil
}

// relocate 为一支被抽中的队伍挑备选并提交迁移；没有可行备选时原地保留
func (s *TrackReassignmentService) relocate(
	ctx context.Context,
	group *repository.TeamGroup,
	oldTrack string,
	counts map[string]int,
	capacities map[string]*int,
	labels map[string]string,
	overflowSet map[string]bool,
	opts ReassignOptions,
) (*Reassignment, string, error) {
	if len(group.Members) == 0 {
		return nil, SkipNoAlternative, nil
	}
	representative := group.Members[0]
	prefs := representative.Preferences()

	// 备选 = 第二、三志愿中非再平衡集合的赛道，乱序后取第一个有余量的
	type alternative struct {
		track   string
		prefIdx int
	}
	var viable []alternative
	for idx := 1; idx < 3; idx++ {
		pref := prefs[idx]
		if pref == "" || pref == oldTrack || overflowSet[pref] {
			continue
		}
		viable = append(viable, alternative{track: pref, prefIdx: idx + 1})
	}
	s.rng.Shuffle(len(viable), func(i, j int) {
		viable[i], viable[j] = viable[j], viable[i]
	})

	var chosen *alternative
	for i := range viable {
		capacity := capacities[viable[i].track]
		if capacity == nil || counts[viable[i].track] < *capacity {
			chosen = &viable[i]
			break
		}
	}
	if chosen == nil {
		return nil, SkipNoAlternative, nil
	}

	counts[oldTrack]--
	counts[chosen.track]++

	oldLabel := labels[oldTrack]
	if oldLabel == "" {
		oldLabel = oldTrack
	}
	newLabel := labels[chosen.track]
	if newLabel == "" {
		newLabel = chosen.track
	}
	result := &Reassignment{
		TeamCode:       group.Code,
		OldTrack:       oldTrack,
		OldTrackLabel:  oldLabel,
		NewTrack:       chosen.track,
		NewTrackLabel:  newLabel,
		PreferenceUsed: chosen.prefIdx,
		TeamSize:       len(group.Members),
	}
	if opts.DryRun {
		return result, "", nil
	}

	timestamp := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return repository.NewTeamRepository(tx).AssignTrack(ctx, group.Code, chosen.track, timestamp)
	})
	if err != nil {
		return nil, "", err
	}

	if !opts.SkipNotify {
		recipients := collectEmails(group.Members)
		if len(recipients) > 0 {
			if _, err := s.notifier.Notify(ctx, recipients, interfaces.TemplateTrackReassigned, map[string]string{
				"team_code":     group.Code,
				"old_track":     oldLabel,
				"new_track":     newLabel,
				"contact_email": s.cfg.Notify.ContactEmail,
			}); err != nil {
				s.logger.WithError(err).WithField("team_code", group.Code).Warn("赛道变更通知投递失败")
			}
		}
	}
	return result, "", nil
}
