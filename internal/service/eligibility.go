package service

import (
	"context"

	"TeamMatch/internal/interfaces"
	"TeamMatch/internal/model"
	"TeamMatch/internal/repository"

	"gorm.io/gorm"
)

// EligibilityService 队伍资格核验：基于报名表实现 interfaces.EligibilityOracle。
// 全有或全无：任一成员该届次报名不是 pending，则整队不具备合并资格
type EligibilityService struct {
	db       *gorm.DB
	teamRepo repository.TeamRepository
}

// 确保 EligibilityService 始终满足资格核验接口
var _ interfaces.EligibilityOracle = (*EligibilityService)(nil)

func NewEligibilityService(db *gorm.DB) *EligibilityService {
	return &EligibilityService{
		db:       db,
		teamRepo: repository.NewTeamRepository(db),
	}
}

func (s *EligibilityService) EligibleMembers(ctx context.Context, teamCode string, editionID uint64) ([]interfaces.EligibleMember, error) {
	rows, err := s.teamRepo.MemberRowsByCode(ctx, teamCode)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	memberIDs := make([]uint64, 0, len(rows))
	for _, row := range rows {
		memberIDs = append(memberIDs, row.MemberID)
	}
	statuses, err := s.registrationStatuses(ctx, memberIDs, editionID)
	if err != nil {
		return nil, err
	}

	eligible := make([]interfaces.EligibleMember, 0, len(rows))
	for _, row := range rows {
		if statuses[row.MemberID] != model.RegistrationPending {
			return nil, nil
		}
		eligible = append(eligible, interfaces.EligibleMember{
			MemberID:    row.MemberID,
			Email:       row.Email,
			DisplayName: row.DisplayName,
		})
	}
	return eligible, nil
}

// TeamConfirmed 赛道分配用的资格判定：队伍满员且全员 confirmed/attended
func (s *EligibilityService) TeamConfirmed(ctx context.Context, teamCode string, editionID uint64, targetSize int) (bool, error) {
	if targetSize <= 0 {
		return false, nil
	}
	rows, err := s.teamRepo.MembersByCode(ctx, teamCode)
	if err != nil {
		return false, err
	}
	if len(rows) < targetSize {
		return false, nil
	}
	memberIDs := make([]uint64, 0, len(rows))
	for _, row := range rows {
		memberIDs = append(memberIDs, row.MemberID)
	}
	statuses, err := s.registrationStatuses(ctx, memberIDs, editionID)
	if err != nil {
		return false, err
	}
	if len(statuses) != len(rows) {
		return false, nil
	}
	for _, status := range statuses {
		if status != model.RegistrationConfirmed && status != model.RegistrationAttended {
			return false, nil
		}
	}
	return true, nil
}

func (s *EligibilityService) registrationStatuses(ctx context.Context, memberIDs []uint64, editionID uint64) (map[uint64]model.RegistrationStatus, error) {
	var regs []*model.Registration
	if err := s.db.WithContext(ctx).
		Where("member_id IN ? AND edition_id = ?", memberIDs, editionID).
		Find(&regs).Error; err != nil {
		return nil, err
	}
	statuses := make(map[uint64]model.RegistrationStatus, len(regs))
	for _, reg := range regs {
		statuses[reg.MemberID] = reg.Status
	}
	return statuses, nil
}
