package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/aula-go-api/internal/service"
	"github.com/noah-isme/aula-go-api/internal/utils"
)

// GradeHandler exposes the read-side grade endpoints. Students may only read
// their own grades; graders may read any student's.
type GradeHandler struct {
	service service.GradeQueryService
	logger  zerolog.Logger
}

// NewGradeHandler builds a grade query handler instance.
func NewGradeHandler(service service.GradeQueryService, logger zerolog.Logger) *GradeHandler {
	return &GradeHandler{
		service: service,
		logger:  logger.With().Str("component", "grade_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *GradeHandler) Register(router fiber.Router) {
	router.Get("/classes/:classSlug/students/:studentID/grades/items", h.items)
	router.Get("/classes/:classSlug/students/:studentID/grades/constituents", h.constituents)
	router.Get("/classes/:classSlug/students/:studentID/grades/modules", h.modules)
	router.Get("/classes/:classSlug/students/:studentID/grades/summary", h.summary)
}

func (h *GradeHandler) items(c *fiber.Ctx) error {
	studentID, ok := h.authorizeStudent(c)
	if !ok {
		return nil
	}

	grades, err := h.service.ItemGrades(c.UserContext(), c.Params("classSlug"), studentID)
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "item grades retrieved", grades)
}

func (h *GradeHandler) constituents(c *fiber.Ctx) error {
	studentID, ok := h.authorizeStudent(c)
	if !ok {
		return nil
	}

	grades, err := h.service.ConstituentGrades(c.UserContext(), c.Params("classSlug"), studentID)
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "constituent grades retrieved", grades)
}

func (h *GradeHandler) modules(c *fiber.Ctx) error {
	studentID, ok := h.authorizeStudent(c)
	if !ok {
		return nil
	}

	grades, err := h.service.ModuleGrades(c.UserContext(), c.Params("classSlug"), studentID)
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "module grades retrieved", grades)
}

func (h *GradeHandler) summary(c *fiber.Ctx) error {
	studentID, ok := h.authorizeStudent(c)
	if !ok {
		return nil
	}

	level := c.Query("level", service.LevelModules)
	summary, err := h.service.Summary(c.UserContext(), c.Params("classSlug"), studentID, level)
	if err != nil {
		return sendServiceError(c, requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "grade summary retrieved", summary)
}

// authorizeStudent resolves the target student and enforces self-access for
// students. On failure the response has already been written.
func (h *GradeHandler) authorizeStudent(c *fiber.Ctx) (uint, bool) {
	callerID := userIDFromContext(c)
	if callerID == 0 {
		_ = utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		return 0, false
	}

	studentID, err := parseUintParam(c, "studentID")
	if err != nil {
		_ = utils.SendError(c, fiber.StatusBadRequest, err.Error())
		return 0, false
	}

	if studentID != callerID && userRoleFromContext(c) == "student" {
		_ = utils.SendError(c, fiber.StatusForbidden, "students may only read their own grades")
		return 0, false
	}

	return studentID, true
}
