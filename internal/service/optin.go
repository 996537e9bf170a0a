package service

import (
	"context"
	"errors"
	"time"

	"TeamMatch/internal/config"
	"TeamMatch/internal/model"
	"TeamMatch/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OptInOutcome 入池处理结果码
type OptInOutcome string

const (
	OutcomeOK             OptInOutcome = "ok"
	OutcomeInvalidLink    OptInOutcome = "invalid_link"
	OutcomeMemberGone     OptInOutcome = "member_gone"
	OutcomeNotEligible    OptInOutcome = "not_eligible"
	OutcomeTeamTooLarge   OptInOutcome = "team_too_large"
	OutcomeAlreadyInPool  OptInOutcome = "already_in_pool"
	OutcomeAlreadyMatched OptInOutcome = "already_matched"
)

// OptInResult 入池处理结果；重复点击返回 already_in_pool，属成功形态
type OptInResult struct {
	Outcome OptInOutcome          `json:"outcome"`
	Message string                `json:"message"`
	Entry   *model.MergePoolEntry `json:"entry,omitempty"`
}

// OptInService 处理入池确认令牌。队伍归属以成员当前记录为准，
// 令牌中的队伍码只作为成员已脱队时的回填快照（自愈）
type OptInService struct {
	db     *gorm.DB
	logger *logrus.Logger
	cfg    *config.Config
	tokens *TokenService
}

func NewOptInService(db *gorm.DB, logger *logrus.Logger, cfg *config.Config) *OptInService {
	return &OptInService{
		db:     db,
		logger: logger,
		cfg:    cfg,
		tokens: NewTokenService(&cfg.Merge),
	}
}

// ProcessToken 校验令牌并把成员当前队伍加入合并池。
// 队伍解析、资格核验与入池写在同一事务中执行，防止并发改队导致人数不一致
func (s *OptInService) ProcessToken(ctx context.Context, tokenString string, actorID *uint64) (*OptInResult, error) {
	claims, err := s.tokens.Verify(tokenString)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalid) {
			return &OptInResult{Outcome: OutcomeInvalidLink, Message: "确认链接无效或已过期。"}, nil
		}
		return nil, err
	}

	var member model.Member
	err = s.db.WithContext(ctx).First(&member, claims.MemberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &OptInResult{Outcome: OutcomeMemberGone, Message: "该成员已不存在。"}, nil
	}
	if err != nil {
		return nil, err
	}

	targetSize := s.cfg.Merge.TargetTeamSize
	var result *OptInResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		teamRepo := repository.NewTeamRepository(tx)
		poolRepo := repository.NewMergePoolRepository(tx)
		oracle := NewEligibilityService(tx)

		// 自愈：成员当前队伍优先于令牌快照；两者皆无则新建单人队伍
		existingCode, err := teamRepo.CodeByMember(ctx, member.ID)
		if err != nil {
			return err
		}
		teamCode := existingCode
		if teamCode == "" {
			teamCode = claims.TeamCode
		}
		if teamCode == "" {
			row, err := teamRepo.CreateMembership(ctx, member.ID, "")
			if err != nil {
				return err
			}
			teamCode = row.Code
		} else if existingCode == "" {
			if _, err := teamRepo.CreateMembership(ctx, member.ID, teamCode); err != nil {
				return err
			}
		}

		eligible, err := oracle.EligibleMembers(ctx, teamCode, claims.EditionID)
		if err != nil {
			return err
		}
		memberCount := len(eligible)
		if memberCount == 0 {
			result = &OptInResult{Outcome: OutcomeNotEligible, Message: "队伍已不具备合并资格（无 pending 状态成员）。"}
			return nil
		}
		if memberCount > targetSize-1 {
			result = &OptInResult{Outcome: OutcomeTeamTooLarge, Message: "只有 pending 成员数少于目标规模的队伍才能加入合并池。"}
			return nil
		}

		existingEntry, err := poolRepo.GetEntry(ctx, claims.EditionID, teamCode)
		if err != nil {
			return err
		}
		memberIDs := make([]uint64, 0, memberCount)
		for _, em := range eligible {
			memberIDs = append(memberIDs, em.MemberID)
		}
		if existingEntry != nil && existingEntry.Status == model.PoolStatusMatched {
			result = &OptInResult{Outcome: OutcomeAlreadyMatched, Message: "该队伍已完成撮合。"}
			return nil
		}
		if existingEntry != nil && existingEntry.Status == model.PoolStatusPending {
			// 重复点击：只补一条审计，幂等返回成功形态
			if err := poolRepo.AppendEvent(ctx, existingEntry.ID, actorID, model.EventOptIn, "",
				map[string]interface{}{"member_ids": memberIDs, "duplicate": true}); err != nil {
				return err
			}
			result = &OptInResult{Outcome: OutcomeAlreadyInPool, Message: "队伍已在合并池中，撮合结果会另行通知。", Entry: existingEntry}
			return nil
		}

		now := time.Now()
		if err := teamRepo.SetSeekingMerge(ctx, teamCode, true, now); err != nil {
			return err
		}
		entry, err := poolRepo.UpsertPending(ctx, claims.EditionID, teamCode, memberCount, model.TriggerAuto)
		if err != nil {
			return err
		}
		if err := poolRepo.AppendEvent(ctx, entry.ID, actorID, model.EventOptIn, "",
			map[string]interface{}{"member_ids": memberIDs}); err != nil {
			return err
		}
		result = &OptInResult{Outcome: OutcomeOK, Message: "队伍已加入合并池，撮合成功后会发送通知。", Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"member_id": member.ID,
		"outcome":   result.Outcome,
	}).Info("入池确认处理完成")
	return result, nil
}
