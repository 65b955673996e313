package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RewardRole is a category under which XP is tracked per user
type RewardRole string

const (
	RoleDeveloper     RewardRole = "developer"
	RolePresenter     RewardRole = "presenter"
	RoleDesigner      RewardRole = "designer"
	RoleProblemSolver RewardRole = "problemSolver"
	RoleOrganizer     RewardRole = "organizer"
	RoleParticipation RewardRole = "participation"
	RoleBestPerformer RewardRole = "bestPerformer"
)

// AllRewardRoles lists every reward role
var AllRewardRoles = []RewardRole{
	RoleDeveloper, RolePresenter, RoleDesigner, RoleProblemSolver,
	RoleOrganizer, RoleParticipation, RoleBestPerformer,
}

// Valid reports whether r is a known role
func (r RewardRole) Valid() bool {
	for _, known := range AllRewardRoles {
		if r == known {
			return true
		}
	}
	return false
}

// LedgerField is the ledger document field holding XP for this role
func (r RewardRole) LedgerField() string {
	return "xp_" + string(r)
}

// WinsField is the ledger field counting award passes in which the user won something
const WinsField = "count_wins"

// BestPerformerKey is the reserved winners-map key for the team best performer
const BestPerformerKey = "Best Performer"

// Ledger is a user's accumulated reward document
type Ledger struct {
	UserID        string           `json:"userId"`
	Fields        map[string]int64 `json:"fields"`
	AwardedEvents []string         `json:"awardedEvents,omitempty"`
}

// XP returns the points held under role
func (l *Ledger) XP(role RewardRole) int64 {
	return l.Fields[role.LedgerField()]
}

// Wins returns the wins counter
func (l *Ledger) Wins() int64 {
	return l.Fields[WinsField]
}

// TotalXP sums every xp_ field
func (l *Ledger) TotalXP() int64 {
	var total int64
	for field, v := range l.Fields {
		if strings.HasPrefix(field, "xp_") {
			total += v
		}
	}
	return total
}

// AwardRecord is one computed grant of points to a user for an event
type AwardRecord struct {
	UserID   string     `json:"userId"`
	EventID  string     `json:"eventId"`
	Role     RewardRole `json:"role"`
	Points   int64      `json:"points"`
	IsWinner bool       `json:"isWinner"`
}

// WinnerEntry holds the winning entity ids for one criterion.
// On the wire it is a bare string for a single winner and an array otherwise.
type WinnerEntry []string

// MarshalJSON implements json.Marshaler
func (w WinnerEntry) MarshalJSON() ([]byte, error) {
	if len(w) == 1 {
		return json.Marshal(w[0])
	}
	if w == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(w))
}

// UnmarshalJSON implements json.Unmarshaler
func (w *WinnerEntry) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*w = WinnerEntry{}
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*w = WinnerEntry{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("winner entry: expected string or array, got %s", string(data))
	}
	*w = WinnerEntry(many)
	return nil
}

// WinnerMap maps a criterion title (or BestPerformerKey) to its winners
type WinnerMap map[string]WinnerEntry

// HasAnyWinner reports whether at least one entry names a winner
func (m WinnerMap) HasAnyWinner() bool {
	for _, entry := range m {
		if len(entry) > 0 {
			return true
		}
	}
	return false
}

// Keys returns the map keys sorted
func (m WinnerMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Actor is the caller of an operation as asserted by the trusted gateway
type Actor struct {
	UserID string `json:"userId"`
	Admin  bool   `json:"admin"`
}
