package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dispute-service/internal/api/dto"
	"github.com/spec-kit/dispute-service/internal/domain"
	"github.com/spec-kit/dispute-service/internal/service"
	apperrors "github.com/spec-kit/dispute-service/pkg/errorutil"
)

// EventsHandler exposes the notification engine.
type EventsHandler struct {
	engine *service.EventService
}

// NewEventsHandler constructs handler.
func NewEventsHandler(engine *service.EventService) *EventsHandler {
	return &EventsHandler{engine: engine}
}

// Submit handles POST /api/events.
func (h *EventsHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitEventRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.CaseID <= 0 || req.StageNum == nil || req.EventType == "" {
		return apperrors.NewValidationError("case_id, stage_num, event_type required", nil)
	}

	event, err := h.engine.SubmitEvent(c.UserContext(), service.SubmitEventInput{
		CaseID:    req.CaseID,
		StageNum:  *req.StageNum,
		EventType: domain.EventType(req.EventType),
		UserTo:    req.UserTo,
		AddressBy: req.AddressBy,
		Finished:  req.Finished,
		FileHash:  req.FileHash,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": eventResponse(event)})
}

// List handles GET /api/events for the caller.
func (h *EventsHandler) List(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", 20)
	list, err := h.engine.ListEventsForUser(c.UserContext(), user.ID, pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	items := make([]dto.EventResponse, 0, len(list))
	for i := range list {
		items = append(items, eventResponse(&list[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get handles GET /api/events/:id.
func (h *EventsHandler) Get(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	event, err := h.engine.GetEvent(c.UserContext(), id, user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": eventResponse(event)})
}

// MarkSeen handles POST /api/events/:id/seen.
func (h *EventsHandler) MarkSeen(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	event, err := h.engine.MarkSeen(c.UserContext(), id, user.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": eventResponse(event)})
}

func eventResponse(event *domain.NotifyEvent) dto.EventResponse {
	userTo := event.RecipientIDs
	if userTo == nil {
		userTo = []int64{}
	}
	return dto.EventResponse{
		ID:        event.ID,
		CreatedAt: event.CreatedAt,
		Contract:  event.ContractID,
		Stage:     event.StageID,
		UserBy:    event.UserByID,
		UserTo:    userTo,
		Seen:      event.Seen,
		EventType: string(event.Type),
	}
}
