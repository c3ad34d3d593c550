// Package domain contains core business types and interfaces.
//
// This file defines the subscription lifecycle and the family-plan roster.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Subscription Status
// =============================================================================

// SubscriptionStatus is the locally cached billing state of one profile.
type SubscriptionStatus string

const (
	SubscriptionStatusFree     SubscriptionStatus = "free"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// String returns the string representation of the status.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusFree, SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCanceled:
		return true
	}
	return false
}

// IsPremium reports whether the status unlocks premium features.
func (s SubscriptionStatus) IsPremium() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// CanTransitionTo reports whether moving to target follows the expected lifecycle:
//
//	free -> trialing|active -> past_due -> canceled
//	past_due -> active (retried invoice succeeded)
//
// Stripe is the source of truth, so webhook handlers still apply unexpected
// transitions; this is used to flag them in logs.
func (s SubscriptionStatus) CanTransitionTo(target SubscriptionStatus) bool {
	if s == target {
		return true
	}
	if target == SubscriptionStatusCanceled {
		return true
	}

	switch s {
	case SubscriptionStatusFree, SubscriptionStatusCanceled:
		return target == SubscriptionStatusTrialing || target == SubscriptionStatusActive
	case SubscriptionStatusTrialing:
		return target == SubscriptionStatusActive || target == SubscriptionStatusPastDue
	case SubscriptionStatusActive:
		return target == SubscriptionStatusPastDue
	case SubscriptionStatusPastDue:
		return target == SubscriptionStatusActive
	}
	return false
}

// SubscriptionStatusFromStripe maps a Stripe subscription status onto the local enum.
func SubscriptionStatusFromStripe(status string) SubscriptionStatus {
	switch status {
	case "active":
		return SubscriptionStatusActive
	case "trialing":
		return SubscriptionStatusTrialing
	case "past_due", "unpaid":
		return SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return SubscriptionStatusCanceled
	default:
		// incomplete, paused
		return SubscriptionStatusFree
	}
}

// =============================================================================
// Subscription
// =============================================================================

// Subscription is one billable profile's view of its Stripe subscription.
type Subscription struct {
	ProfileID      uuid.UUID
	SubscriptionID string // empty when the profile is not on a subscription
	Status         SubscriptionStatus
	ExpiresAt      *time.Time
	UpdatedAt      time.Time
}

// IsPremium reports whether the profile currently has premium access.
func (s *Subscription) IsPremium() bool {
	return s != nil && s.Status.IsPremium()
}

// FreeSubscription is the implicit state of a profile with no subscription row.
func FreeSubscription(profileID uuid.UUID) *Subscription {
	return &Subscription{ProfileID: profileID, Status: SubscriptionStatusFree}
}

// =============================================================================
// Checkout
// =============================================================================

// CheckoutPlan selects between a single-seat and a family (multi-seat) checkout.
type CheckoutPlan string

const (
	CheckoutPlanSingle CheckoutPlan = "single"
	CheckoutPlanFamily CheckoutPlan = "family"
)

// IsValid returns true if the plan is a recognized value.
func (p CheckoutPlan) IsValid() bool {
	return p == CheckoutPlanSingle || p == CheckoutPlanFamily
}

// Stripe metadata keys written on checkout sessions and subscriptions.
const (
	MetaPlan            = "mode"
	MetaProfileID       = "profile_id"
	MetaProfileIDs      = "profile_ids"
	MetaParentProfileID = "parent_profile_id"
)

// CheckoutParams describes a checkout request made by a parent.
type CheckoutParams struct {
	ParentID   uuid.UUID
	Plan       CheckoutPlan
	ProfileIDs []uuid.UUID // seats for a family plan; the parent alone for single
	SuccessURL string
	CancelURL  string
}

// =============================================================================
// Roster
// =============================================================================

// Roster is the set of profiles billed under one family subscription.
// Its size is kept equal to the Stripe subscription item quantity.
type Roster struct {
	SubscriptionID  string
	ParentProfileID uuid.UUID
	StripeItemID    string
	ProfileIDs      []uuid.UUID
	QuantitySynced  int
	Version         int64
	SyncedVersion   int64
	Canceled        bool
}

// Size returns the number of rostered profiles.
func (r *Roster) Size() int {
	return len(r.ProfileIDs)
}

// Contains reports whether the profile is on the roster.
func (r *Roster) Contains(id uuid.UUID) bool {
	for _, p := range r.ProfileIDs {
		if p == id {
			return true
		}
	}
	return false
}

// InSync reports whether Stripe's quantity was last set from this roster
// version.
func (r *Roster) InSync() bool {
	return r.SyncedVersion == r.Version && r.QuantitySynced == r.Size()
}

// FormatProfileIDs joins profile IDs for Stripe metadata.
func FormatProfileIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

// ParseProfileIDs reads a comma separated list of profile IDs, dropping
// blanks and duplicates. Any malformed entry fails the whole list.
func ParseProfileIDs(s string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("parse profile id %q: %w", part, err)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}
