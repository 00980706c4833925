package domain

import "time"

// User is a party, judge or operator of the dispute-resolution platform.
type User struct {
	ID         int64
	Email      string
	Name       string
	FamilyName string
	Active     bool
	Judge      bool
	Staff      bool
	Admin      bool
	Info       *UserInfo
	CreatedAt  time.Time
}

// FullName joins name and family name.
func (u User) FullName() string {
	return u.Name + " " + u.FamilyName
}

// UserInfo carries the organization and blockchain identity of a user.
type UserInfo struct {
	ID               int64
	UserID           int64
	EthAccount       string
	OrganizationName string
	TaxNum           *string
	PaymentNum       string
	Files            *string
}

// Defaults applied to UserInfo fields left blank at registration.
const (
	DefaultOrganizationName = "Some org"
	DefaultPaymentNum       = "not valid payment number"
)

// Column limits shared by validation and the schema.
const (
	MaxEthAccountLen       = 70
	MaxOrganizationNameLen = 150
	MaxTaxNumLen           = 15
	MaxPaymentNumLen       = 40
	MaxResultFileLen       = 100
)
