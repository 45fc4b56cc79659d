package models

import "github.com/google/uuid"

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	RoleStaff    = "staff"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID uuid.UUID
	Role   string
	Email  string
}

func (i Identity) IsStaff() bool {
	return i.Role == RoleAdmin || i.Role == RoleStaff
}

// CanAccess reports whether the caller is the given user or staff.
func (i Identity) CanAccess(ownerID uuid.UUID) bool {
	return i.UserID == ownerID || i.IsStaff()
}
