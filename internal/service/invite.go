package service

import (
	"context"
	"fmt"

	"TeamMatch/internal/config"
	"TeamMatch/internal/interfaces"
	"TeamMatch/internal/model"
	"TeamMatch/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TeamInvite 一封待发出的合并邀请：一支未满员队伍（或散人）与其入池令牌
type TeamInvite struct {
	EditionID   uint64                      `json:"edition_id"`
	Token       string                      `json:"token"`
	TeamCode    string                      `json:"team_code"` // 散人为空
	MemberCount int                         `json:"member_count"`
	Members     []interfaces.EligibleMember `json:"members"`
}

// InviteService 汇集可受邀入池的未满员队伍并发送邀请。
// 只覆盖该届次报名 pending 的成员；已在池中或已举手的队伍默认跳过
type InviteService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	cfg      *config.Config
	tokens   *TokenService
	oracle   interfaces.EligibilityOracle
	poolRepo repository.MergePoolRepository
	notifier interfaces.Notifier
}

func NewInviteService(db *gorm.DB, logger *logrus.Logger, cfg *config.Config, notifier interfaces.Notifier) *InviteService {
	return &InviteService{
		db:       db,
		logger:   logger,
		cfg:      cfg,
		tokens:   NewTokenService(&cfg.Merge),
		oracle:   NewEligibilityService(db),
		poolRepo: repository.NewMergePoolRepository(db),
		notifier: notifier,
	}
}

// GatherTargets 枚举邀请对象：有队伍码的未满员 pending 队伍，以及没有队伍的散人。
// includeExisting 为 true 时连已举手/已入池的队伍也重发
func (s *InviteService) GatherTargets(ctx context.Context, editionID uint64, includeExisting bool) ([]*TeamInvite, error) {
	type pendingRow struct {
		MemberID    uint64
		Email       string
		DisplayName string
	}
	var pending []pendingRow
	if err := s.db.WithContext(ctx).
		Table("registrations AS r").
		Select("r.member_id, m.email, m.display_name").
		Joins("JOIN members m ON m.id = r.member_id").
		Where("r.edition_id = ? AND r.status = ?", editionID, model.RegistrationPending).
		Order("r.member_id ASC").
		Scan(&pending).Error; err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	memberIDs := make([]uint64, 0, len(pending))
	for _, row := range pending {
		memberIDs = append(memberIDs, row.MemberID)
	}
	var memberships []*model.TeamCode
	if err := s.db.WithContext(ctx).
		Where("member_id IN ?", memberIDs).
		Find(&memberships).Error; err != nil {
		return nil, err
	}
	codeByMember := make(map[uint64]string, len(memberships))
	seekingByCode := make(map[string]bool)
	for _, ms := range memberships {
		codeByMember[ms.MemberID] = ms.Code
		if ms.SeekingMerge {
			seekingByCode[ms.Code] = true
		}
	}

	var invites []*TeamInvite
	seenCodes := make(map[string]bool)
	for _, row := range pending {
		code := codeByMember[row.MemberID]
		if code == "" {
			// 散人：发单人邀请，入池时会自动建队
			token, err := s.tokens.Issue(row.MemberID, editionID, "")
			if err != nil {
				return nil, fmt.Errorf("签发邀请令牌失败: %w", err)
			}
			invites = append(invites, &TeamInvite{
				EditionID:   editionID,
				Token:       token,
				MemberCount: 1,
				Members: []interfaces.EligibleMember{{
					MemberID:    row.MemberID,
					Email:       row.Email,
					DisplayName: row.DisplayName,
				}},
			})
			continue
		}
		if seenCodes[code] {
			continue
		}
		seenCodes[code] = true

		if !includeExisting && seekingByCode[code] {
			continue
		}
		eligible, err := s.oracle.EligibleMembers(ctx, code, editionID)
		if err != nil {
			return nil, err
		}
		if len(eligible) == 0 || len(eligible) > s.cfg.Merge.TargetTeamSize-1 {
			continue
		}
		entry, err := s.poolRepo.GetEntry(ctx, editionID, code)
		if err != nil {
			return nil, err
		}
		if entry != nil && !includeExisting &&
			(entry.Status == model.PoolStatusPending || entry.Status == model.PoolStatusMatched) {
			continue
		}

		token, err := s.tokens.Issue(eligible[0].MemberID, editionID, code)
		if err != nil {
			return nil, fmt.Errorf("签发邀请令牌失败: %w", err)
		}
		invites = append(invites, &TeamInvite{
			EditionID:   editionID,
			Token:       token,
			TeamCode:    code,
			MemberCount: len(eligible),
			Members:     eligible,
		})
	}
	return invites, nil
}

// SendInvites 给每个邀请对象的全体成员投递 merge-invite 通知，返回发送的邀请数
func (s *InviteService) SendInvites(ctx context.Context, invites []*TeamInvite, dryRun bool) int {
	sent := 0
	for _, invite := range invites {
		var recipients []string
		for _, m := range invite.Members {
			if m.Email != "" {
				recipients = append(recipients, m.Email)
			}
		}
		if len(recipients) == 0 {
			continue
		}
		if dryRun {
			sent++
			continue
		}
		data := map[string]string{
			"accept_url":    s.cfg.Merge.AcceptURLBase + invite.Token,
			"team_code":     invite.TeamCode,
			"team_size":     fmt.Sprintf("%d", invite.MemberCount),
			"deadline":      s.cfg.Merge.InviteDeadline,
			"contact_email": s.cfg.Notify.ContactEmail,
		}
		if _, err := s.notifier.Notify(ctx, recipients, interfaces.TemplateMergeInvite, data); err != nil {
			s.logger.WithError(err).WithField("team_code", invite.TeamCode).Warn("合并邀请投递失败")
			continue
		}
		sent++
	}
	return sent
}
