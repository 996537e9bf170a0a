package api

import (
	"net/http"
	"strconv"

	"TeamMatch/internal/config"
	"TeamMatch/internal/interfaces"
	"TeamMatch/internal/model"
	"TeamMatch/internal/repository"
	"TeamMatch/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type MergeHandler struct {
	optInService    *service.OptInService
	matchingService *service.MatchingService
	inviteService   *service.InviteService
	poolRepo        repository.MergePoolRepository
	logger          *logrus.Logger
}

func NewMergeHandler(db *gorm.DB, logger *logrus.Logger, cfg *config.Config, notifier interfaces.Notifier) *MergeHandler {
	return &MergeHandler{
		optInService:    service.NewOptInService(db, logger, cfg),
		matchingService: service.NewMatchingService(db, logger, cfg, notifier),
		inviteService:   service.NewInviteService(db, logger, cfg, notifier),
		poolRepo:        repository.NewMergePoolRepository(db),
		logger:          logger,
	}
}

type optInRequest struct {
	Token   string  `json:"token" binding:"required"`
	ActorID *uint64 `json:"actor_id"`
}

// OptInHandler 处理入池确认令牌
// @Summary 确认加入合并池
// @Param body body optInRequest true "确认令牌"
// @Success 200 {object} service.OptInResult
// @Failure 400 {object} service.OptInResult
// @Router /merge/opt-in [post]
func (h *MergeHandler) OptInHandler(c *gin.Context) {
	var req optInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少确认令牌"})
		return
	}

	result, err := h.optInService.ProcessToken(c.Request.Context(), req.Token, req.ActorID)
	if err != nil {
		h.logger.Errorf("入池确认处理失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(optInStatus(result.Outcome), result)
}

// optInStatus 结果码到 HTTP 状态的映射；重复点击视为成功
func optInStatus(outcome service.OptInOutcome) int {
	switch outcome {
	case service.OutcomeOK, service.OutcomeAlreadyInPool:
		return http.StatusOK
	case service.OutcomeInvalidLink:
		return http.StatusBadRequest
	case service.OutcomeMemberGone:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

// SendInvitesHandler 汇集未满员队伍并群发合并邀请
// @Summary 发送合并邀请
// @Param edition_id query int true "届次ID"
// @Param include_existing query bool false "是否连已入池队伍重发（默认否）"
// @Param dry_run query bool false "只预览不发送"
// @Success 200 {object} map[string]interface{}
// @Router /merge/invites [post]
func (h *MergeHandler) SendInvitesHandler(c *gin.Context) {
	editionID, err := strconv.ParseUint(c.Query("edition_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "edition_id 参数无效"})
		return
	}
	includeExisting := c.Query("include_existing") == "true"
	dryRun := c.Query("dry_run") == "true"

	invites, err := h.inviteService.GatherTargets(c.Request.Context(), editionID, includeExisting)
	if err != nil {
		h.logger.Errorf("汇集邀请对象失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sent := h.inviteService.SendInvites(c.Request.Context(), invites, dryRun)

	c.JSON(http.StatusOK, gin.H{
		"targets": len(invites),
		"sent":    sent,
		"dry_run": dryRun,
	})
}

// RunMatchHandler 执行一次撮合批次
// @Summary 执行撮合
// @Param edition_id query int true "届次ID"
// @Param deadline query bool false "截止期模式：目标4之后再按目标3补一轮"
// @Success 200 {object} map[string]interface{}
// @Router /merge/match [post]
func (h *MergeHandler) RunMatchHandler(c *gin.Context) {
	editionID, err := strconv.ParseUint(c.Query("edition_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "edition_id 参数无效"})
		return
	}
	deadline := c.Query("deadline") == "true"
	trigger := model.TriggerManual
	if deadline {
		trigger = model.TriggerDeadline
	}

	results, err := h.matchingService.Run(c.Request.Context(), editionID, deadline, trigger)
	if err != nil {
		h.logger.Errorf("撮合批次执行失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"groups":  len(results),
		"results": results,
	})
}

// PoolHandler 查询合并池条目（可按状态过滤），供运营排障
// @Summary 查看合并池
// @Param edition_id query int true "届次ID"
// @Param status query string false "pending/matched/removed，缺省为全部"
// @Param events query bool false "是否附带每条审计事件"
// @Success 200 {object} map[string]interface{}
// @Router /merge/pool [get]
func (h *MergeHandler) PoolHandler(c *gin.Context) {
	editionID, err := strconv.ParseUint(c.Query("edition_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "edition_id 参数无效"})
		return
	}
	status := model.MergePoolStatus(c.Query("status"))
	withEvents := c.Query("events") == "true"

	entries, err := h.poolRepo.ListEntries(c.Request.Context(), editionID, status)
	if err != nil {
		h.logger.Errorf("查询合并池失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type entryView struct {
		*model.MergePoolEntry
		Events []*model.MergeEventLog `json:"events,omitempty"`
	}
	views := make([]entryView, 0, len(entries))
	for _, entry := range entries {
		view := entryView{MergePoolEntry: entry}
		if withEvents {
			events, err := h.poolRepo.ListEvents(c.Request.Context(), entry.ID)
			if err != nil {
				h.logger.Errorf("查询审计事件失败: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			view.Events = events
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{
		"total":   len(views),
		"entries": views,
	})
}
