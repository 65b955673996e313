package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// EventStatus is the lifecycle state of an event
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusApproved   EventStatus = "approved"
	StatusInProgress EventStatus = "in_progress"
	StatusCompleted  EventStatus = "completed"
	StatusClosed     EventStatus = "closed"
	StatusRejected   EventStatus = "rejected"
	StatusCancelled  EventStatus = "cancelled"
)

// AllStatuses lists every lifecycle state in declaration order
var AllStatuses = []EventStatus{
	StatusPending, StatusApproved, StatusInProgress, StatusCompleted,
	StatusClosed, StatusRejected, StatusCancelled,
}

// Valid reports whether s is a known status
func (s EventStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// EventFormat decides how contestants are grouped
type EventFormat string

const (
	FormatIndividual  EventFormat = "individual"
	FormatTeam        EventFormat = "team"
	FormatCompetition EventFormat = "competition"
)

// Valid reports whether f is a known format
func (f EventFormat) Valid() bool {
	return f == FormatIndividual || f == FormatTeam || f == FormatCompetition
}

// XPAwardingStatus tracks the reward pass for an event
type XPAwardingStatus string

const (
	XPNone       XPAwardingStatus = "none"
	XPInProgress XPAwardingStatus = "in_progress"
	XPCompleted  XPAwardingStatus = "completed"
	XPFailed     XPAwardingStatus = "failed"
)

// LifecycleEvent names a stamped moment in an event's life
type LifecycleEvent string

const (
	LifecycleCreated  LifecycleEvent = "created"
	LifecycleApproved LifecycleEvent = "approved"
	LifecycleRejected LifecycleEvent = "rejected"
	LifecycleClosed   LifecycleEvent = "closed"
)

// DateRange is the scheduled window of an event
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// EventDetails holds the requester-editable description of an event
type EventDetails struct {
	EventName        string      `json:"eventName"`
	Description      string      `json:"description"`
	Type             string      `json:"type"`
	Format           EventFormat `json:"format"`
	Organizers       []string    `json:"organizers"`
	Date             DateRange   `json:"date"`
	Prize            *string     `json:"prize,omitempty"`
	Rules            *string     `json:"rules,omitempty"`
	AllowSubmissions bool        `json:"allowSubmissions"`
	MaxTeamMembers   int         `json:"maxTeamMembers,omitempty"`
}

// Team is a named group of members inside a team-format event
type Team struct {
	ID       string   `json:"id"`
	TeamName string   `json:"teamName"`
	Members  []string `json:"members"`
	TeamLead string   `json:"teamLead"`
}

// HasMember reports whether userID is on the team
func (t Team) HasMember(userID string) bool {
	for _, m := range t.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Criterion is a point-valued judging dimension tied to a reward role
type Criterion struct {
	ConstraintIndex int        `json:"constraintIndex"`
	Title           string     `json:"title"`
	Points          int        `json:"points"`
	Role            RewardRole `json:"role"`
}

// Key is the ballot key for this criterion
func (c Criterion) Key() string {
	return strconv.Itoa(c.ConstraintIndex)
}

// Submission is a participant's entry for an event that accepts submissions
type Submission struct {
	Link        string    `json:"link"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// OrganizerRating is one participant's rating of how the event was run
type OrganizerRating struct {
	Score   int       `json:"score"`
	Comment string    `json:"comment,omitempty"`
	RatedAt time.Time `json:"ratedAt"`
}

// AwardSummary records what a completed reward pass paid out
type AwardSummary struct {
	Users       int       `json:"users"`
	Points      int64     `json:"points"`
	CompletedAt time.Time `json:"completedAt"`
}

// Event is the root aggregate persisted as one document
type Event struct {
	ID                      string                            `json:"id"`
	Status                  EventStatus                       `json:"status"`
	Details                 EventDetails                      `json:"details"`
	RequestedBy             string                            `json:"requestedBy"`
	ParentEventID           string                            `json:"parentEventId,omitempty"`
	Participants            []string                          `json:"participants"`
	Teams                   []Team                            `json:"teams"`
	TeamMemberFlatList      []string                          `json:"teamMemberFlatList"`
	Criteria                []Criterion                       `json:"criteria"`
	CriteriaVotes           map[string]map[string]string      `json:"criteriaVotes"`
	BestPerformerSelections map[string]string                 `json:"bestPerformerSelections"`
	Winners                 WinnerMap                         `json:"winners,omitempty"`
	VotingOpen              bool                              `json:"votingOpen"`
	XPAwardingStatus        XPAwardingStatus                  `json:"xpAwardingStatus"`
	XPAwardError            *string                           `json:"xpAwardError"`
	XPAwardSummary          *AwardSummary                     `json:"xpAwardSummary,omitempty"`
	LifecycleTimestamps     map[LifecycleEvent]time.Time      `json:"lifecycleTimestamps,omitempty"`
	RejectionReason         *string                           `json:"rejectionReason"`
	ClosedBy                string                            `json:"closedBy,omitempty"`
	ChildEventIDs           []string                          `json:"childEventIds"`
	Submissions             map[string]Submission             `json:"submissions,omitempty"`
	OrganizerRatings        map[string]OrganizerRating        `json:"organizerRatings,omitempty"`
	Version                 int64                             `json:"version"`
	CreatedAt               time.Time                         `json:"createdAt"`
	UpdatedAt               time.Time                         `json:"updatedAt"`
}

// Clone returns a deep copy of the event
func (e *Event) Clone() *Event {
	data, err := json.Marshal(e)
	if err != nil {
		// Every field is plain data; marshal cannot fail.
		panic(err)
	}
	var out Event
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

// EnsureMaps initialises nil maps and the awarding status so callers can write into them
func (e *Event) EnsureMaps() {
	if e.CriteriaVotes == nil {
		e.CriteriaVotes = make(map[string]map[string]string)
	}
	if e.BestPerformerSelections == nil {
		e.BestPerformerSelections = make(map[string]string)
	}
	if e.LifecycleTimestamps == nil {
		e.LifecycleTimestamps = make(map[LifecycleEvent]time.Time)
	}
	if e.Submissions == nil {
		e.Submissions = make(map[string]Submission)
	}
	if e.OrganizerRatings == nil {
		e.OrganizerRatings = make(map[string]OrganizerRating)
	}
	if e.XPAwardingStatus == "" {
		e.XPAwardingStatus = XPNone
	}
}

// IsTeamFormat reports whether contestants are grouped into teams
func (e *Event) IsTeamFormat() bool {
	return e.Details.Format == FormatTeam
}

// AllOrganizers returns the organizer list with the requester included, de-duplicated
func (e *Event) AllOrganizers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range append([]string{e.RequestedBy}, e.Details.Organizers...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// IsOrganizer reports whether userID organizes the event
func (e *Event) IsOrganizer(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range e.AllOrganizers() {
		if id == userID {
			return true
		}
	}
	return false
}

// IsParticipant reports whether userID takes part, either directly or through a team
func (e *Event) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return contains(e.Participants, userID) || contains(e.TeamMemberFlatList, userID)
}

// Contestants returns every user competing in the event
func (e *Event) Contestants() []string {
	if e.IsTeamFormat() {
		return append([]string(nil), e.TeamMemberFlatList...)
	}
	return append([]string(nil), e.Participants...)
}

// TeamIndexOf returns the index of the team userID belongs to
func (e *Event) TeamIndexOf(userID string) (int, bool) {
	for i, team := range e.Teams {
		if team.HasMember(userID) {
			return i, true
		}
	}
	return -1, false
}

// FindTeam looks a team up by name, ignoring case
func (e *Event) FindTeam(name string) (int, bool) {
	want := FoldTeamName(name)
	for i, team := range e.Teams {
		if FoldTeamName(team.TeamName) == want {
			return i, true
		}
	}
	return -1, false
}

// RecomputeMemberList rebuilds the flattened member cache from the team list
func (e *Event) RecomputeMemberList() {
	seen := make(map[string]bool)
	flat := []string{}
	for _, team := range e.Teams {
		for _, m := range team.Members {
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			flat = append(flat, m)
		}
	}
	sort.Strings(flat)
	e.TeamMemberFlatList = flat
}

// CriterionByKey finds the criterion whose constraintIndex renders as key
func (e *Event) CriterionByKey(key string) (Criterion, bool) {
	for _, c := range e.Criteria {
		if c.Key() == key {
			return c, true
		}
	}
	return Criterion{}, false
}

// CriterionByTitle finds a criterion by its display title
func (e *Event) CriterionByTitle(title string) (Criterion, bool) {
	for _, c := range e.Criteria {
		if c.Title == title {
			return c, true
		}
	}
	return Criterion{}, false
}

// Stamp records when a lifecycle moment happened. An existing stamp is kept
// unless correct is set. It reports whether the stamp was written.
func (e *Event) Stamp(what LifecycleEvent, at time.Time, correct bool) bool {
	if e.LifecycleTimestamps == nil {
		e.LifecycleTimestamps = make(map[LifecycleEvent]time.Time)
	}
	if _, exists := e.LifecycleTimestamps[what]; exists && !correct {
		return false
	}
	e.LifecycleTimestamps[what] = at
	return true
}

// FoldTeamName normalises a team name for case-insensitive comparison
func FoldTeamName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
