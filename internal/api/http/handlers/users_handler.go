package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dispute-service/internal/api/dto"
	"github.com/spec-kit/dispute-service/internal/domain"
	"github.com/spec-kit/dispute-service/internal/service"
	apperrors "github.com/spec-kit/dispute-service/pkg/errorutil"
)

// UsersHandler exposes the identity registry.
type UsersHandler struct {
	identity *service.IdentityService
	cases    *service.CaseService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(identity *service.IdentityService, cases *service.CaseService) *UsersHandler {
	return &UsersHandler{identity: identity, cases: cases}
}

// Create handles POST /api/users.
func (h *UsersHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	user, err := h.identity.RegisterUser(c.UserContext(), service.UserCreateInput{
		Email:      req.Email,
		Name:       req.Name,
		FamilyName: req.FamilyName,
		Judge:      req.Judge,
		Staff:      req.Staff,
		Admin:      req.Admin,
		Info: service.UserInfoInput{
			EthAccount:       req.Info.EthAccount,
			OrganizationName: req.Info.OrganizationName,
			TaxNum:           req.Info.TaxNum,
			PaymentNum:       req.Info.PaymentNum,
			Files:            req.Info.Files,
		},
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": userResponse(user)})
}

// Self handles GET /api/users/self.
func (h *UsersHandler) Self(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

// UpdateSelf handles PATCH /api/users/self.
func (h *UsersHandler) UpdateSelf(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.UpdateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	input := service.UserUpdateInput{Name: req.Name, FamilyName: req.FamilyName}
	if req.Info != nil {
		input.OrganizationName = req.Info.OrganizationName
		input.TaxNum = req.Info.TaxNum
		input.PaymentNum = req.Info.PaymentNum
		input.Files = req.Info.Files
	}
	updated, err := h.identity.UpdateUser(c.UserContext(), user.ID, input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(updated)})
}

// Judges handles GET /api/users/judges.
func (h *UsersHandler) Judges(c *fiber.Ctx) error {
	judges, err := h.identity.ListJudges(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.UserResponse, 0, len(judges))
	for i := range judges {
		items = append(items, userResponse(&judges[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// ByAccount handles GET /api/users/by-account/:account.
func (h *UsersHandler) ByAccount(c *fiber.Ctx) error {
	user, err := h.identity.LookupByAccount(c.UserContext(), c.Params("account"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

// Get handles GET /api/users/:id.
func (h *UsersHandler) Get(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	user, err := h.identity.GetUser(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

// Contracts handles GET /api/users/:id/contracts.
func (h *UsersHandler) Contracts(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	cases, err := h.cases.ListCasesForUser(c.UserContext(), id)
	if err != nil {
		return err
	}
	items := make([]dto.ContractResponse, 0, len(cases))
	for i := range cases {
		items = append(items, contractResponse(&cases[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Delete handles DELETE /api/users/:id.
func (h *UsersHandler) Delete(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.identity.DeleteUser(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

func userResponse(user *domain.User) dto.UserResponse {
	resp := dto.UserResponse{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		FamilyName: user.FamilyName,
		FullName:   user.FullName(),
		Active:     user.Active,
		Judge:      user.Judge,
		Staff:      user.Staff,
		Admin:      user.Admin,
		CreatedAt:  user.CreatedAt,
	}
	if user.Info != nil {
		resp.Info = &dto.UserInfoResponse{
			ID:               user.Info.ID,
			EthAccount:       user.Info.EthAccount,
			OrganizationName: user.Info.OrganizationName,
			TaxNum:           user.Info.TaxNum,
			PaymentNum:       user.Info.PaymentNum,
			Files:            user.Info.Files,
		}
	}
	return resp
}
