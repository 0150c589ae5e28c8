// Package models - resource.go defines the Resource model (the protected
// object of every policy decision) and its discretionary access grants.
package models

import "time"

// Resource represents a protected learning resource. Classification (MAC
// label) and Department (ABAC attribute) are set at creation and never
// implicitly reclassified; the policy engine treats them as immutable inputs.
type Resource struct {
	ID             string    `db:"id"`
	Title          string    `db:"title"`
	Classification string    `db:"classification"` // PUBLIC, INTERNAL, CONFIDENTIAL
	Department     *string   `db:"department"`     // nil = visible to all departments
	OwnerID        string    `db:"owner_id"`
	ContentURL     string    `db:"content_url"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// ResourceGrant is a discretionary (DAC) share: the owner grants another
// user read and/or write access to one resource. Grants are created only
// through the explicit share operation.
type ResourceGrant struct {
	ID         string    `db:"id"`
	ResourceID string    `db:"resource_id"`
	GranteeID  string    `db:"grantee_id"`
	CanRead    bool      `db:"can_read"`
	CanWrite   bool      `db:"can_write"`
	GrantedBy  string    `db:"granted_by"`
	CreatedAt  time.Time `db:"created_at"`
}
