// Package domain contains core business types and interfaces.
//
// This file defines the Profile domain type. A profile is either a parent
// (the account holder who pays) or a student linked to a parent.
package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Role distinguishes account holders from the students they manage.
type Role string

const (
	RoleParent  Role = "parent"
	RoleStudent Role = "student"
)

// IsValid returns true if the role is a recognized value.
func (r Role) IsValid() bool {
	return r == RoleParent || r == RoleStudent
}

// Grade levels accepted by the tutoring flows. Zero means kindergarten.
const (
	MinGradeLevel = 0
	MaxGradeLevel = 12
)

// Profile represents a person using BestTutorEver.
type Profile struct {
	ID               uuid.UUID
	AuthUserID       string // identity provider subject; empty for parent-managed students
	ParentID         *uuid.UUID
	Email            string
	DisplayName      string
	Role             Role
	GradeLevel       *int
	StripeCustomerID string
	AvatarKey        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsParent returns true if the profile is an account holder.
func (p *Profile) IsParent() bool {
	return p.Role == RoleParent
}

// Name returns the display name or the email if no name was set.
func (p *Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}

// ManagedBy reports whether the parent may act on this profile:
// parents manage themselves and their own students.
func (p *Profile) ManagedBy(parentID uuid.UUID) bool {
	if p.ID == parentID {
		return true
	}
	return p.ParentID != nil && *p.ParentID == parentID
}

// CreateStudentParams contains the validated parameters for adding a student.
type CreateStudentParams struct {
	ParentID    uuid.UUID
	DisplayName string
	Email       string
	GradeLevel  *int
}

// UpdateProfileParams carries the editable fields of a profile.
type UpdateProfileParams struct {
	DisplayName string
	GradeLevel  *int
}

// Account bundles a profile with its current subscription view.
type Account struct {
	Profile      *Profile
	Subscription *Subscription
}

// IsPremium reports whether the account has premium access.
func (a *Account) IsPremium() bool {
	return a != nil && a.Subscription.IsPremium()
}

// =============================================================================
// Conversion helpers from repository types
// =============================================================================

// NullStringValue safely extracts a string from sql.NullString.
func NullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// NullTimeValue safely extracts a time pointer from sql.NullTime.
func NullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// NullInt32Value extracts an int pointer from sql.NullInt32.
func NullInt32Value(ni sql.NullInt32) *int {
	if ni.Valid {
		v := int(ni.Int32)
		return &v
	}
	return nil
}

// NullUUIDValue extracts a uuid pointer from uuid.NullUUID.
func NullUUIDValue(nu uuid.NullUUID) *uuid.UUID {
	if nu.Valid {
		id := nu.UUID
		return &id
	}
	return nil
}

// ToNullString converts a string to sql.NullString.
func ToNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// ToNullTime converts a time pointer to sql.NullTime.
func ToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// ToNullInt32 converts an int pointer to sql.NullInt32.
func ToNullInt32(i *int) sql.NullInt32 {
	if i == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*i), Valid: true}
}

// ToNullUUID converts a uuid pointer to uuid.NullUUID.
func ToNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
