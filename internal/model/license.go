package model

import "time"

// Status is the stored lifecycle state of a license.
type Status string

const (
    StatusPending  Status = "pending"
    StatusApproved Status = "approved"
    StatusRejected Status = "rejected"
    StatusRevoked  Status = "revoked"

    // StatusExpired is never written to the database.  It is derived at
    // read time by EffectiveStatus.
    StatusExpired Status = "expired"
)

// Valid reports whether s is one of the four stored states.
func (s Status) Valid() bool {
    switch s {
    case StatusPending, StatusApproved, StatusRejected, StatusRevoked:
        return true
    }
    return false
}

// Plan lengths in days.  PlanLifetime grants an approval with no expiry.
const (
    PlanLifetime = 0
    PlanMonthly  = 30
    PlanQuarter  = 90
)

// ValidPlanDays reports whether d is an accepted plan length.
func ValidPlanDays(d int) bool {
    return d == PlanLifetime || d == PlanMonthly || d == PlanQuarter
}

// Upstream affiliate statuses cached in License.ExnessStatus.
const (
    UpstreamActive   = "ACTIVE"
    UpstreamInactive = "INACTIVE"
    UpstreamNotFound = "NOT_FOUND"
)

// License governs whether an MT5 account (login on a given trade server) may
// run the EA.  There is exactly one row per (Login, Server).
//
// Fields:
//  ID           – UUID primary key, immutable.
//  Email        – contact email, also used for the affiliation check.
//  Whatsapp     – optional phone number.
//  Login        – MT5 account number (positive).
//  Server       – MT5 trade server name.
//  Broker       – optional broker name.
//  Status       – stored state; see EffectiveStatus for the derived view.
//  PlanDays     – 0 (lifetime), 30 or 90.
//  ExpiresAt    – end of the approval window; nil when unapproved or lifetime.
//  ApprovedAt   – time of the last approval.
//  Note         – admin note or reconciliation audit trail.
//  ClientUID    – affiliate client identifier captured on auto-approval.
//  ExnessStatus – last upstream status seen by the reconciliation job.
//  CreatedAt    – insert time.
//  UpdatedAt    – last write time.
type License struct {
    ID           string     `db:"id" json:"id"`
    Email        string     `db:"email" json:"email"`
    Whatsapp     *string    `db:"whatsapp" json:"whatsapp"`
    Login        int64      `db:"login" json:"login"`
    Server       string     `db:"server" json:"server"`
    Broker       *string    `db:"broker" json:"broker"`
    Status       Status     `db:"status" json:"status"`
    PlanDays     int        `db:"plan_days" json:"plan_days"`
    ExpiresAt    *time.Time `db:"expires_at" json:"expires_at"`
    ApprovedAt   *time.Time `db:"approved_at" json:"approved_at"`
    Note         *string    `db:"note" json:"note"`
    ClientUID    *string    `db:"client_uid" json:"client_uid"`
    ExnessStatus *string    `db:"exness_status" json:"exness_status"`
    CreatedAt    time.Time  `db:"created_at" json:"created_at"`
    UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// EffectiveStatus returns the status a caller should act on.  An approved
// license whose expiry lies strictly before now reads as expired; every
// other combination returns the stored status unchanged.  All read paths
// must go through this function.
func EffectiveStatus(status Status, expiresAt *time.Time, now time.Time) Status {
    if status == StatusApproved && expiresAt != nil && expiresAt.Before(now) {
        return StatusExpired
    }
    return status
}

// Effective is a convenience wrapper around EffectiveStatus.
func (l License) Effective(now time.Time) Status {
    return EffectiveStatus(l.Status, l.ExpiresAt, now)
}

// ExpiryFor returns the end of an approval window starting at from.  A
// lifetime plan has no expiry.
func ExpiryFor(from time.Time, planDays int) *time.Time {
    if planDays == PlanLifetime {
        return nil
    }
    exp := from.AddDate(0, 0, planDays)
    return &exp
}
