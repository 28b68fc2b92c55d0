package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/aula-go-api/internal/apperr"
	"github.com/noah-isme/aula-go-api/internal/service"
	"github.com/noah-isme/aula-go-api/internal/snapshot"
	"github.com/noah-isme/aula-go-api/internal/utils"
)

// SyncHandler exposes the curriculum snapshot sync endpoint.
type SyncHandler struct {
	service service.SyncService
	logger  zerolog.Logger
}

// NewSyncHandler builds a sync handler instance.
func NewSyncHandler(service service.SyncService, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		service: service,
		logger:  logger.With().Str("component", "sync_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SyncHandler) Register(router fiber.Router) {
	router.Post("/classes/:classSlug/sync", h.sync)
}

func (h *SyncHandler) sync(c *fiber.Ctx) error {
	classSlug := strings.TrimSpace(c.Params("classSlug"))
	if classSlug == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "class slug is required")
	}

	body := c.Body()
	if len(body) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "snapshot body is required")
	}

	doc, err := snapshot.Parse(body, c.Get(fiber.HeaderContentType))
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	force := strings.EqualFold(c.Query("force"), "true")

	logger := requestLogger(h.logger, c)
	report, err := h.service.Apply(c.UserContext(), classSlug, doc, force)
	if err != nil {
		// A partial failure still returns the per-type report so the caller
		// can see which entity types need a re-run.
		if apperr.KindOf(err) == apperr.KindIntegrity {
			logger.Error().Err(err).Str("run_id", report.RunID).Msg("curriculum sync partially failed")
			return utils.SendErrorWithData(c, fiber.StatusInternalServerError, err.Error(), report)
		}
		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			logger.Error().Err(err).Msg("curriculum sync failed")
		}
		return sendServiceError(c, logger, err)
	}

	return utils.SendSuccess(c, "curriculum synchronized", report)
}
