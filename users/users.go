package users

import "time"

// RoleType is the role the identity boundary assigns to a user
type RoleType string

const (
	RoleAdmin  RoleType = "Admin"  // Full access, satisfies every role check under the default policy
	RoleEditor RoleType = "Editor" // Manages catalog content
	RoleUser   RoleType = "User"   // Regular signed in viewer
)

// User is the identity the boundary reports for the signed in account
type User struct {
	ID           string    `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Role         RoleType  `json:"role,omitempty"`
	ProfileImage string    `json:"profile_image,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// RolePolicy decides whether a held role satisfies a required one
type RolePolicy interface {
	Satisfies(have, want RoleType) bool
}

// TopRoleBypass grants a check when the roles match, or when have is the top role.
// An empty Top disables the bypass and leaves exact matching.
type TopRoleBypass struct {
	Top RoleType
}

var _ RolePolicy = TopRoleBypass{}

// DefaultPolicy is exact match with Admin satisfying everything
func DefaultPolicy() RolePolicy {
	return TopRoleBypass{Top: RoleAdmin}
}

func (p TopRoleBypass) Satisfies(have, want RoleType) bool {
	if have == "" {
		return false
	}
	if have == want {
		return true
	}
	return p.Top != "" && have == p.Top
}

// RankedHierarchy orders roles from least to most privileged. A role satisfies any
// role at or below its own rank. Roles outside the hierarchy only satisfy themselves.
type RankedHierarchy struct {
	ranks map[RoleType]int
}

var _ RolePolicy = (*RankedHierarchy)(nil)

// NewRankedHierarchy takes roles ordered from least to most privileged
func NewRankedHierarchy(lowToHigh ...RoleType) *RankedHierarchy {
	ranks := make(map[RoleType]int, len(lowToHigh))
	for i, r := range lowToHigh {
		ranks[r] = i
	}
	return &RankedHierarchy{ranks: ranks}
}

func (h *RankedHierarchy) Satisfies(have, want RoleType) bool {
	if have == "" {
		return false
	}
	if have == want {
		return true
	}
	haveRank, okHave := h.ranks[have]
	wantRank, okWant := h.ranks[want]
	return okHave && okWant && haveRank >= wantRank
}
