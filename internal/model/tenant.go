package model

import "time"

type Tenant struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	IsBlocked    bool      `json:"isBlocked"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	TenantID int64
	IsAdmin  bool
}

func (a Actor) CanAccess(ownerID int64) bool {
	return a.IsAdmin || a.TenantID == ownerID
}
