package store

import (
	"time"

	"botforge/internal/state"
)

// Tenant is one hosted bot instance. The credential is the routing key
// for every inbound event and never changes after creation.
type Tenant struct {
	Credential  string
	DisplayName string
	OwnerID     int64
	CreatorName string
	CreatedAt   time.Time
}

// BotUser is the per-tenant, per-user membership record.
type BotUser struct {
	TenantCredential string
	UserID           int64
	HasJoined        bool
	Step             state.Step
	Flow             state.Flow
	LastSeen         time.Time
	Blocked          bool
	DisplayName      string
	ReferredBy       string
	FirstContact     bool
}

// PlatformUser is one person who has talked to the controlling bot,
// platform-wide, regardless of how many tenants they own.
type PlatformUser struct {
	UserID       int64
	Step         state.Step
	Flow         state.Flow
	LastSeen     time.Time
	Blocked      bool
	DisplayName  string
	ReferredBy   string
	FirstContact bool
}

// TenantAudience pairs a tenant with its joined, unblocked member count.
type TenantAudience struct {
	Tenant
	Joined int
}

// AuditEntry records one control-plane action.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	Action  string
	Target  string
	OK      int
	Fail    int
	Note    string
}
