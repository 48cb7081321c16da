package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/tally/internal/activity"
	"github.com/MarcoPoloResearchLab/tally/internal/events"
	"github.com/MarcoPoloResearchLab/tally/internal/snapshot"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingActivityStore   = errors.New("activity store dependency required")
	errMissingSnapshotManager = errors.New("snapshot manager dependency required")
	errMissingDatabase        = errors.New("database dependency required")
)

// Dependencies wires the HTTP surface to the core services.
type Dependencies struct {
	Activity  *activity.Store
	Snapshots *snapshot.Manager
	Events    *events.Dispatcher
	Database  *gorm.DB
	Logger    *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the activity ingest endpoint
// and the snapshot read/trigger/delete API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Activity == nil {
		return nil, errMissingActivityStore
	}
	if deps.Snapshots == nil {
		return nil, errMissingSnapshotManager
	}
	if deps.Database == nil {
		return nil, errMissingDatabase
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		activity:  deps.Activity,
		snapshots: deps.Snapshots,
		events:    deps.Events,
		db:        deps.Database,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/activity/messages", handler.handleRecordMessage)
	router.GET("/snapshots", handler.handleListSnapshots)
	router.POST("/snapshots", handler.handleCreateSnapshot)
	router.GET("/snapshots/:id", handler.handleGetSnapshot)
	router.DELETE("/snapshots/:id", handler.handleDeleteSnapshot)
	router.GET("/events", handler.handleSnapshotEvents)

	return router, nil
}

type httpHandler struct {
	activity  *activity.Store
	snapshots *snapshot.Manager
	events    *events.Dispatcher
	db        *gorm.DB
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type recordMessagePayload struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	ChannelID   string   `json:"channel_id"`
	ChannelName string   `json:"channel_name"`
}

func (h *httpHandler) handleRecordMessage(c *gin.Context) {
	var request recordMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.activity.RecordMessage(c.Request.Context(), activity.Message{
		UserID:      request.UserID,
		Username:    request.Username,
		Roles:       request.Roles,
		ChannelID:   request.ChannelID,
		ChannelName: request.ChannelName,
	})
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_message"})
			return
		}
		h.logger.Error("failed to record message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record_failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}

func isValidationError(err error) bool {
	return errors.Is(err, activity.ErrInvalidUserID) ||
		errors.Is(err, activity.ErrInvalidChannelID) ||
		errors.Is(err, activity.ErrInvalidUsername) ||
		errors.Is(err, activity.ErrInvalidChannelName)
}

func (h *httpHandler) handleListSnapshots(c *gin.Context) {
	summaries, err := h.snapshots.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list snapshots", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": summaries})
}

func (h *httpHandler) handleCreateSnapshot(c *gin.Context) {
	created, err := h.snapshots.Create(c.Request.Context())
	if err != nil {
		h.logger.Error("manual snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot_failed"})
		return
	}
	if created == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleGetSnapshot(c *gin.Context) {
	id, ok := parseSnapshotID(c)
	if !ok {
		return
	}

	detail, err := h.snapshots.Get(c.Request.Context(), id)
	if errors.Is(err, snapshot.ErrSnapshotNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load snapshot", zap.Int64("snapshot_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *httpHandler) handleDeleteSnapshot(c *gin.Context) {
	id, ok := parseSnapshotID(c)
	if !ok {
		return
	}

	deleted, err := h.snapshots.Delete(c.Request.Context(), id)
	if errors.Is(err, snapshot.ErrSnapshotNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to delete snapshot", zap.Int64("snapshot_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "sequence_reset": deleted.SequenceReset})
}

func parseSnapshotID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_snapshot_id"})
		return 0, false
	}
	return id, true
}
