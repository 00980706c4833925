package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dispute-service/internal/api/dto"
	"github.com/spec-kit/dispute-service/internal/domain"
	"github.com/spec-kit/dispute-service/internal/service"
	apperrors "github.com/spec-kit/dispute-service/pkg/errorutil"
)

// ContractsHandler exposes the case registry.
type ContractsHandler struct {
	cases *service.CaseService
}

// NewContractsHandler constructs handler.
func NewContractsHandler(cases *service.CaseService) *ContractsHandler {
	return &ContractsHandler{cases: cases}
}

// Create handles POST /api/contracts.
func (h *ContractsHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateContractRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.CaseCreateInput{
		Name:     req.Name,
		Files:    req.Files,
		PartyIDs: req.Parties,
		Stages:   make([]service.StageInput, 0, len(req.Stages)),
	}
	for i, st := range req.Stages {
		start, err := parseDate(fmt.Sprintf("stages[%d].start", i), st.Start)
		if err != nil {
			return err
		}
		allowed, err := parseDate(fmt.Sprintf("stages[%d].dispute_start_allowed", i), st.DisputeStartAllowed)
		if err != nil {
			return err
		}
		input.Stages = append(input.Stages, service.StageInput{Start: start, DisputeStartAllowed: allowed, OwnerID: st.Owner})
	}

	contract, err := h.cases.CreateCase(c.UserContext(), input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": contractResponse(contract)})
}

// Get handles GET /api/contracts/:id.
func (h *ContractsHandler) Get(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	contract, err := h.cases.GetCase(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": contractResponse(contract)})
}

// Stage handles GET /api/contracts/:id/stages/:num.
func (h *ContractsHandler) Stage(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	num, err := strconv.Atoi(c.Params("num"))
	if err != nil {
		return apperrors.NewValidationError("invalid num", map[string]any{"num": c.Params("num")})
	}
	stage, err := h.cases.GetStageByPosition(c.UserContext(), id, num)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": stageResponse(stage)})
}

// Update handles PATCH /api/contracts/:id.
func (h *ContractsHandler) Update(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.UpdateContractRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	contract, err := h.cases.UpdateCase(c.UserContext(), id, user, service.CaseUpdateInput{Name: req.Name, Files: req.Files})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": contractResponse(contract)})
}

// UpdateStage handles PATCH /api/contracts/:id/stages/:num.
func (h *ContractsHandler) UpdateStage(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	num, err := strconv.Atoi(c.Params("num"))
	if err != nil {
		return apperrors.NewValidationError("invalid num", map[string]any{"num": c.Params("num")})
	}
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	start, err := parseDate("start", req.Start)
	if err != nil {
		return err
	}
	allowed, err := parseDate("dispute_start_allowed", req.DisputeStartAllowed)
	if err != nil {
		return err
	}
	stage, err := h.cases.UpdateStage(c.UserContext(), id, num, user, service.StageUpdateInput{
		Start:               start,
		DisputeStartAllowed: allowed,
		OwnerID:             req.Owner,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": stageResponse(stage)})
}

func contractResponse(contract *domain.ContractCase) dto.ContractResponse {
	resp := dto.ContractResponse{
		ID:        contract.ID,
		Name:      contract.Name,
		Files:     contract.Files,
		Finished:  int16(contract.Finished),
		Parties:   contract.PartyIDs,
		CreatedAt: contract.CreatedAt,
	}
	if resp.Parties == nil {
		resp.Parties = []int64{}
	}
	for i := range contract.Stages {
		resp.Stages = append(resp.Stages, stageResponse(&contract.Stages[i]))
	}
	return resp
}

func stageResponse(stage *domain.ContractStage) dto.StageResponse {
	return dto.StageResponse{
		ID:                  stage.ID,
		Num:                 stage.Position,
		Start:               formatDate(stage.Start),
		DisputeStartAllowed: formatDate(stage.DisputeStartAllowed),
		Owner:               stage.OwnerID,
		DisputeStarted:      formatDate(stage.DisputeStarted),
		DisputeStarter:      stage.DisputeStarterID,
		DisputeFinished:     formatDate(stage.DisputeFinished),
		ResultFile:          stage.ResultFile,
	}
}
