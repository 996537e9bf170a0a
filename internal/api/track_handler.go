package api

import (
	"math/rand"
	"net/http"
	"strconv"

	"TeamMatch/internal/config"
	"TeamMatch/internal/interfaces"
	"TeamMatch/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type TrackHandler struct {
	db            *gorm.DB
	cfg           *config.Config
	notifier      interfaces.Notifier
	assignService *service.TrackAssignmentService
	logger        *logrus.Logger
}

func NewTrackHandler(db *gorm.DB, logger *logrus.Logger, cfg *config.Config, notifier interfaces.Notifier) *TrackHandler {
	return &TrackHandler{
		db:            db,
		cfg:           cfg,
		notifier:      notifier,
		assignService: service.NewTrackAssignmentService(db, logger, cfg, notifier),
		logger:        logger,
	}
}

// AssignHandler 执行一次赛道分配批次
// @Summary 执行赛道分配
// @Param edition_id query int true "届次ID（资格核验用）"
// @Param dry_run query bool false "只预览不落库"
// @Param limit query int false "本批次最多分配的队伍数"
// @Param skip_notify query bool false "分配后不发通知"
// @Success 200 {object} map[string]interface{}
// @Router /tracks/assign [post]
func (h *TrackHandler) AssignHandler(c *gin.Context) {
	editionID, err := strconv.ParseUint(c.Query("edition_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "edition_id 参数无效"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	opts := service.AssignOptions{
		EditionID:  editionID,
		DryRun:     c.Query("dry_run") == "true",
		Limit:      limit,
		SkipNotify: c.Query("skip_notify") == "true",
	}

	assignments, skipped, err := h.assignService.Run(c.Request.Context(), opts)
	if err != nil {
		h.logger.Errorf("赛道分配批次失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assigned":    len(assignments),
		"assignments": assignments,
		"skipped":     skipped,
		"dry_run":     opts.DryRun,
	})
}

// ReassignHandler 执行一次超员再平衡批次
// @Summary 执行赛道再平衡
// @Param dry_run query bool false "只预览不落库"
// @Param skip_notify query bool false "迁移后不发通知"
// @Param seed query int false "随机种子（指定后抽取可复现，配合 dry_run 预演）"
// @Success 200 {object} map[string]interface{}
// @Router /tracks/reassign [post]
func (h *TrackHandler) ReassignHandler(c *gin.Context) {
	opts := service.ReassignOptions{
		DryRun:     c.Query("dry_run") == "true",
		SkipNotify: c.Query("skip_notify") == "true",
	}
	var rng *rand.Rand
	if raw := c.Query("seed"); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "seed 参数无效"})
			return
		}
		rng = rand.New(rand.NewSource(seed))
	}

	svc := service.NewTrackReassignmentService(h.db, h.logger, h.cfg, h.notifier, rng)
	reassignments, skipped, err := svc.Run(c.Request.Context(), opts)
	if err != nil {
		h.logger.Errorf("赛道再平衡批次失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reassigned":    len(reassignments),
		"reassignments": reassignments,
		"skipped":       skipped,
		"dry_run":       opts.DryRun,
	})
}
