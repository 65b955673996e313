package services

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abrezinsky/eventxp/internal/errors"
	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/repository"
)

// TeamLimits bounds the size of every team
type TeamLimits struct {
	Min int
	Max int
}

// DefaultTeamLimits is used when no limits are configured
var DefaultTeamLimits = TeamLimits{Min: 1, Max: 10}

// Capacity returns the effective team size cap for ev
func (l TeamLimits) Capacity(ev *models.Event) int {
	capacity := ev.Details.MaxTeamMembers
	if capacity <= 0 {
		capacity = l.Max
	}
	if capacity < l.Min {
		capacity = l.Min
	}
	if capacity > l.Max {
		capacity = l.Max
	}
	return capacity
}

// TeamService manages team membership for team-format events
type TeamService struct {
	base
	repo   repository.EventRepository
	limits TeamLimits

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewTeamService creates a new TeamService
func NewTeamService(log logger.Logger, repo repository.EventRepository, limits TeamLimits, opts ...Option) *TeamService {
	if limits.Max <= 0 {
		limits = DefaultTeamLimits
	}
	if limits.Min < 1 {
		limits.Min = 1
	}
	return &TeamService{
		base:   newBase(log, opts),
		repo:   repo,
		limits: limits,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand replaces the shuffle source used by AutoGenerate
func (s *TeamService) SetRand(r *rand.Rand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rnd = r
}

// teamEvent checks ev accepts team changes
func teamEvent(ev *models.Event) error {
	if !ev.IsTeamFormat() {
		return ErrTeamFormatOnly
	}
	if ev.Status != models.StatusApproved && ev.Status != models.StatusInProgress {
		return errors.Conflictf("teams cannot change while the event is %s", ev.Status)
	}
	return nil
}

// Join adds the caller to the named team
func (s *TeamService) Join(ctx context.Context, actor models.Actor, eventID, teamName string) (*Outcome, error) {
	if actor.UserID == "" {
		return nil, errors.Permission("caller identity is required")
	}
	updated, _, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if err := teamEvent(ev); err != nil {
			return err
		}
		if _, inTeam := ev.TeamIndexOf(actor.UserID); inTeam {
			return errors.Conflict("already a member of a team")
		}
		idx, ok := ev.FindTeam(teamName)
		if !ok {
			return ErrTeamNotFound
		}
		team := &ev.Teams[idx]
		if len(team.Members) >= s.limits.Capacity(ev) {
			return errors.Conflictf("team %q is full", team.TeamName)
		}
		if len(team.Members) == 0 {
			team.TeamLead = actor.UserID
		}
		team.Members = append(team.Members, actor.UserID)
		ev.RecomputeMemberList()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Team joined", "event_id", eventID, "team", teamName, "user_id", actor.UserID)
	return outcome(updated, s.notify(ctx, NotifyTeamsChanged, updated, map[string]string{"team": teamName})), nil
}

// Leave removes the caller from their team. An emptied team is dropped.
func (s *TeamService) Leave(ctx context.Context, actor models.Actor, eventID string) (*Outcome, error) {
	var left string
	updated, _, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if err := teamEvent(ev); err != nil {
			return err
		}
		idx, ok := ev.TeamIndexOf(actor.UserID)
		if !ok {
			return errors.Conflict("not a member of any team")
		}
		team := &ev.Teams[idx]
		left = team.TeamName
		team.Members = removeID(team.Members, actor.UserID)
		if team.TeamLead == actor.UserID {
			team.TeamLead = ""
			if len(team.Members) > 0 {
				team.TeamLead = team.Members[0]
			}
		}
		if len(team.Members) == 0 {
			ev.Teams = append(ev.Teams[:idx], ev.Teams[idx+1:]...)
		}
		ev.RecomputeMemberList()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Team left", "event_id", eventID, "team", left, "user_id", actor.UserID)
	return outcome(updated, s.notify(ctx, NotifyTeamsChanged, updated, map[string]string{"team": left})), nil
}

// AddTeam creates an empty team
func (s *TeamService) AddTeam(ctx context.Context, actor models.Actor, eventID, name string) (*Outcome, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.Validation("team name is required")
	}
	updated, _, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if err := requireOrganizer(actor, ev); err != nil {
			return err
		}
		if err := teamEvent(ev); err != nil {
			return err
		}
		if _, exists := ev.FindTeam(name); exists {
			return errors.Conflictf("team %q already exists", name)
		}
		ev.Teams = append(ev.Teams, models.Team{ID: uuid.NewString(), TeamName: name, Members: []string{}})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Team added", "event_id", eventID, "team", name)
	return outcome(updated, s.notify(ctx, NotifyTeamsChanged, updated, map[string]string{"team": name})), nil
}

// ReplaceTeams overwrites the whole team list after validating it
func (s *TeamService) ReplaceTeams(ctx context.Context, actor models.Actor, eventID string, teams []models.Team) (*Outcome, error) {
	updated, _, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if err := requireOrganizer(actor, ev); err != nil {
			return err
		}
		if err := teamEvent(ev); err != nil {
			return err
		}
		cleaned, err := s.validateTeams(ev, teams)
		if err != nil {
			return err
		}
		ev.Teams = cleaned
		ev.RecomputeMemberList()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Teams replaced", "event_id", eventID, "teams", len(updated.Teams))
	return outcome(updated, s.notify(ctx, NotifyTeamsChanged, updated, nil)), nil
}

func (s *TeamService) validateTeams(ev *models.Event, teams []models.Team) ([]models.Team, error) {
	capacity := s.limits.Capacity(ev)
	names := make(map[string]bool)
	owner := make(map[string]string)
	out := make([]models.Team, 0, len(teams))

	for _, t := range teams {
		name := strings.TrimSpace(t.TeamName)
		if name == "" {
			return nil, errors.Validation("team name is required")
		}
		key := models.FoldTeamName(name)
		if names[key] {
			return nil, errors.Validationf("duplicate team name %q", name)
		}
		names[key] = true

		members := dedupeIDs(t.Members)
		if len(members) > capacity {
			return nil, errors.Validationf("team %q has %d members, the limit is %d", name, len(members), capacity)
		}
		for _, m := range members {
			if other, taken := owner[m]; taken {
				return nil, errors.Validationf("user %s is in both %q and %q", m, other, name)
			}
			owner[m] = name
		}
		lead := strings.TrimSpace(t.TeamLead)
		if lead != "" && !contains(members, lead) {
			return nil, errors.Validationf("lead of team %q must be one of its members", name)
		}

		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, models.Team{ID: id, TeamName: name, Members: members, TeamLead: lead})
	}
	return out, nil
}

// AutoGenerateResult is the outcome of a random team assignment
type AutoGenerateResult struct {
	Outcome
	Unassigned []string `json:"unassigned"`
}

// AutoGenerate shuffles roster and deals it round-robin into the existing
// team shells. Users that do not fit are returned as unassigned.
func (s *TeamService) AutoGenerate(ctx context.Context, actor models.Actor, eventID string, roster []string) (*AutoGenerateResult, error) {
	users := dedupeIDs(roster)
	s.shuffle(users)

	var unassigned []string
	updated, _, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if err := requireOrganizer(actor, ev); err != nil {
			return err
		}
		if err := teamEvent(ev); err != nil {
			return err
		}
		if len(ev.Teams) == 0 {
			return errors.Conflict("create at least one team before generating members")
		}
		unassigned = deal(ev.Teams, users, s.limits.Capacity(ev))
		ev.RecomputeMemberList()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Teams generated", "event_id", eventID, "users", len(users), "unassigned", len(unassigned))
	warning := s.notify(ctx, NotifyTeamsChanged, updated, nil)
	return &AutoGenerateResult{Outcome: *outcome(updated, warning), Unassigned: unassigned}, nil
}

func (s *TeamService) shuffle(users []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rnd.Shuffle(len(users), func(i, j int) { users[i], users[j] = users[j], users[i] })
}

// deal clears every team and hands out users in turn while teams have room.
// The first user dealt to a team leads it.
func deal(teams []models.Team, users []string, capacity int) []string {
	for i := range teams {
		teams[i].Members = []string{}
		teams[i].TeamLead = ""
	}
	unassigned := []string{}
	next := 0
	for _, user := range users {
		placed := false
		for tries := 0; tries < len(teams); tries++ {
			team := &teams[next]
			next = (next + 1) % len(teams)
			if len(team.Members) >= capacity {
				continue
			}
			if len(team.Members) == 0 {
				team.TeamLead = user
			}
			team.Members = append(team.Members, user)
			placed = true
			break
		}
		if !placed {
			unassigned = append(unassigned, user)
		}
	}
	return unassigned
}

func removeID(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
