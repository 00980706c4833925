package dto

import "time"

// CreateUserRequest payload for registering a user with its info.
type CreateUserRequest struct {
	Email      string          `json:"email"`
	Name       string          `json:"name"`
	FamilyName string          `json:"family_name"`
	Judge      bool            `json:"judge"`
	Staff      bool            `json:"staff"`
	Admin      bool            `json:"admin"`
	Info       UserInfoRequest `json:"info"`
}

// UserInfoRequest carries organization and account data.
type UserInfoRequest struct {
	EthAccount       string  `json:"eth_account"`
	OrganizationName string  `json:"organization_name"`
	TaxNum           *string `json:"tax_num"`
	PaymentNum       string  `json:"payment_num"`
	Files            *string `json:"files"`
}

// UpdateUserRequest payload for editing one's own profile.
type UpdateUserRequest struct {
	Name       *string                `json:"name"`
	FamilyName *string                `json:"family_name"`
	Info       *UpdateUserInfoRequest `json:"info"`
}

// UpdateUserInfoRequest carries the editable organization data.
type UpdateUserInfoRequest struct {
	OrganizationName *string `json:"organization_name"`
	TaxNum           *string `json:"tax_num"`
	PaymentNum       *string `json:"payment_num"`
	Files            *string `json:"files"`
}

// UserResponse represents a user.
type UserResponse struct {
	ID         int64             `json:"id"`
	Email      string            `json:"email"`
	Name       string            `json:"name"`
	FamilyName string            `json:"family_name"`
	FullName   string            `json:"full_name"`
	Active     bool              `json:"active"`
	Judge      bool              `json:"judge"`
	Staff      bool              `json:"staff"`
	Admin      bool              `json:"admin"`
	Info       *UserInfoResponse `json:"info"`
	CreatedAt  time.Time         `json:"created_at"`
}

// UserInfoResponse represents the info of a user.
type UserInfoResponse struct {
	ID               int64   `json:"id"`
	EthAccount       string  `json:"eth_account"`
	OrganizationName string  `json:"organization_name"`
	TaxNum           *string `json:"tax_num"`
	PaymentNum       string  `json:"payment_num"`
	Files            *string `json:"files"`
}
