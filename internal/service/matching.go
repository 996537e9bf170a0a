package service

import (
	"context"
	"strings"
	"time"

	"TeamMatch/internal/config"
	"TeamMatch/internal/interfaces"
	"TeamMatch/internal/model"
	"TeamMatch/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MatchGroupResult 一次成组合并的结果
type MatchGroupResult struct {
	TeamCode  string             `json:"team_code"`  // 宿主队伍码
	MemberIDs []uint64           `json:"member_ids"` // 合并后全体成员
	Trigger   model.MergeTrigger `json:"trigger"`
}

// MatchingService 撮合批次：把合并池中的待撮合队伍装箱成目标规模的整队。
// 每个批次先整体重算成员数并剔除失格条目，再按固定规则成组，逐组提交
type MatchingService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	cfg      *config.Config
	poolRepo repository.MergePoolRepository
	teamRepo repository.TeamRepository
	oracle   interfaces.EligibilityOracle
	notifier interfaces.Notifier
}

func NewMatchingService(db *gorm.DB, logger *logrus.Logger, cfg *config.Config, notifier interfaces.Notifier) *MatchingService {
	return &MatchingService{
		db:       db,
		logger:   logger,
		cfg:      cfg,
		poolRepo: repository.NewMergePoolRepository(db),
		teamRepo: repository.NewTeamRepository(db),
		oracle:   NewEligibilityService(db),
		notifier: notifier,
	}
}

// Run 执行一次撮合批次。allowSizeThree 为截止期模式：
// 目标4装箱后的剩余条目再按目标3补一轮（只由操作者显式触发，不做时间自动判定）
func (s *MatchingService) Run(ctx context.Context, editionID uint64, allowSizeThree bool, trigger model.MergeTrigger) ([]MatchGroupResult, error) {
	target := s.cfg.Merge.TargetTeamSize
	pending, err := s.poolRepo.ListPending(ctx, editionID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	// 撮合前整体重算成员数；0 或 >= 目标规模的条目自动移出
	entryMap := make(map[string]*model.MergePoolEntry, len(pending))
	counts := make(map[string]int, len(pending))
	var orderedCodes []string
	for _, entry := range pending {
		members, err := s.oracle.EligibleMembers(ctx, entry.TeamCode, editionID)
		if err != nil {
			return nil, err
		}
		count := len(members)
		if count == 0 || count > target-1 {
			if err := s.removeEntry(ctx, entry, "成员数不再符合入池条件，自动移出。"); err != nil {
				return nil, err
			}
			continue
		}
		entryMap[entry.TeamCode] = entry
		counts[entry.TeamCode] = count
		orderedCodes = append(orderedCodes, entry.TeamCode)
	}
	if len(entryMap) == 0 {
		return nil, nil
	}

	groups, used := buildMatchGroups(orderedCodes, counts, target)
	if allowSizeThree {
		var remaining []string
		for _, code := range orderedCodes {
			if !used[code] {
				remaining = append(remaining, code)
			}
		}
		deadlineGroups, deadlineUsed := buildMatchGroups(remaining, counts, 3)
		groups = append(groups, deadlineGroups...)
		for code := range deadlineUsed {
			used[code] = true
		}
	}

	var results []MatchGroupResult
	for _, group := range groups {
		entries := make([]*model.MergePoolEntry, 0, len(group))
		for _, code := range group {
			entries = append(entries, entryMap[code])
		}
		result, err := s.mergeGroup(ctx, entries, editionID, trigger)
		if err != nil {
			return results, err
		}
		if result != nil {
			results = append(results, *result)
		}
	}
	s.logger.WithFields(logrus.Fields{
		"edition_id": editionID,
		"groups":     len(results),
		"trigger":    trigger,
	}).Info("撮合批次完成")
	return results, nil
}

// buildMatchGroups 确定性装箱：各规模桶内按入池先后（FIFO）取队。
// 目标4优先 3+1，其次 2+2、2+1+1，最后 1×4；目标3（截止期模式）优先单独收口
// 规模3的队，其次 2+1，最后 1×3。规则顺序刻意让更难安置的大块先被消耗
func buildMatchGroups(codes []string, counts map[string]int, target int) ([][]string, map[string]bool) {
	used := make(map[string]bool)
	if target < 3 {
		return nil, used
	}
	buckets := map[int][]string{1: {}, 2: {}, 3: {}}
	for _, code := range codes {
		if n := counts[code]; n >= 1 && n <= 3 {
			buckets[n] = append(buckets[n], code)
		}
	}
	pop := func(size int) string {
		code := buckets[size][0]
		buckets[size] = buckets[size][1:]
		return code
	}

	var groups [][]string
	take := func(group []string) {
		groups = append(groups, group)
		for _, code := range group {
			used[code] = true
		}
	}

	if target == 4 {
		for {
			switch {
			case len(buckets[3]) > 0 && len(buckets[1]) > 0:
				take([]string{pop(3), pop(1)})
			case len(buckets[2]) >= 2:
				take([]string{pop(2), pop(2)})
			case len(buckets[2]) > 0 && len(buckets[1]) >= 2:
				take([]string{pop(2), pop(1), pop(1)})
			case len(buckets[1]) >= 4:
				take([]string{pop(1), pop(1), pop(1), pop(1)})
			default:
				return groups, used
			}
		}
	}
	for {
		switch {
		case len(buckets[3]) > 0:
			take([]string{pop(3)})
		case len(buckets[2]) > 0 && len(buckets[1]) > 0:
			take([]string{pop(2), pop(1)})
		case len(buckets[1]) >= 3:
			take([]string{pop(1), pop(1), pop(1)})
		default:
			return groups, used
		}
	}
}

// mergeGroup 提交一组合并。提交前再次核验资格；任一队伍失格则移出该条目并
// 放弃整组（其余条目留待下个批次），组内所有写操作在一个事务中完成
func (s *MatchingService) mergeGroup(ctx context.Context, entries []*model.MergePoolEntry, editionID uint64, trigger model.MergeTrigger) (*MatchGroupResult, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	teamCodes := make([]string, 0, len(entries))
	for _, entry := range entries {
		teamCodes = append(teamCodes, entry.TeamCode)
	}
	membersMap := make(map[string][]interfaces.EligibleMember, len(teamCodes))
	for _, entry := range entries {
		members, err := s.oracle.EligibleMembers(ctx, entry.TeamCode, editionID)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			if err := s.removeEntry(ctx, entry, "提交时队伍已失去合并资格，移出合并池。"); err != nil {
				return nil, err
			}
			return nil, nil
		}
		membersMap[entry.TeamCode] = members
	}

	// 宿主 = 有效成员最多的队伍，并列时取入池更早的
	hostCode := teamCodes[0]
	maxMembers := -1
	for _, code := range teamCodes {
		if n := len(membersMap[code]); n > maxMembers {
			maxMembers = n
			hostCode = code
		}
	}

	var memberIDs []uint64
	var emails []string
	var names []string
	seen := make(map[uint64]bool)
	for _, code := range teamCodes {
		for _, m := range membersMap[code] {
			if seen[m.MemberID] {
				continue
			}
			seen[m.MemberID] = true
			memberIDs = append(memberIDs, m.MemberID)
			if m.Email != "" {
				emails = append(emails, m.Email)
			}
			names = append(names, m.DisplayName)
		}
	}

	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txPool := repository.NewMergePoolRepository(tx)
		txTeam := repository.NewTeamRepository(tx)

		for _, entry := range entries {
			if err := txPool.MarkMatched(ctx, entry, len(membersMap[entry.TeamCode]), hostCode, trigger, now); err != nil {
				return err
			}
		}

		var obsolete []string
		for _, code := range teamCodes {
			if code != hostCode {
				obsolete = append(obsolete, code)
			}
		}
		if err := txTeam.RewriteCodes(ctx, obsolete, hostCode); err != nil {
			return err
		}
		if err := txTeam.SetSeekingMerge(ctx, hostCode, false, now); err != nil {
			return err
		}

		for _, entry := range entries {
			if err := txPool.AppendEvent(ctx, entry.ID, nil, model.EventMatched, "",
				map[string]interface{}{"merged_codes": teamCodes}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 通知尽力而为：失败只记日志，已提交的合并不回滚
	if len(emails) > 0 {
		delivered, err := s.notifier.Notify(ctx, emails, interfaces.TemplateMergeConfirmed, map[string]string{
			"team_code":     hostCode,
			"member_names":  strings.Join(names, ", "),
			"contact_email": s.cfg.Notify.ContactEmail,
		})
		if err != nil {
			s.logger.WithError(err).WithField("team_code", hostCode).Warn("合并确认通知投递失败")
		} else if delivered > 0 {
			for _, entry := range entries {
				if err := s.poolRepo.AppendEvent(ctx, entry.ID, nil, model.EventNotification, "",
					map[string]interface{}{"emails": emails}); err != nil {
					s.logger.WithError(err).Warn("写入通知审计事件失败")
				}
			}
		}
	}

	return &MatchGroupResult{TeamCode: hostCode, MemberIDs: memberIDs, Trigger: trigger}, nil
}

// removeEntry 失格条目移出：状态置 removed、记审计、清队伍的等待合并标记，三步一个事务
func (s *MatchingService) removeEntry(ctx context.Context, entry *model.MergePoolEntry, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txPool := repository.NewMergePoolRepository(tx)
		if err := txPool.MarkRemoved(ctx, entry); err != nil {
			return err
		}
		if err := txPool.AppendEvent(ctx, entry.ID, nil, model.EventRemoved, message, nil); err != nil {
			return err
		}
		return repository.NewTeamRepository(tx).SetSeekingMerge(ctx, entry.TeamCode, false, time.Now())
	})
}
