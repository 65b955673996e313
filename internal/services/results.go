package services

import (
	"context"
	"sort"

	"github.com/abrezinsky/eventxp/internal/errors"
	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/repository"
)

// Tally computes the winners of every criterion from the recorded ballots.
// Each entry holds all entities tied at the highest count, sorted. A
// criterion nobody voted on gets an empty entry. Team events also get a
// Best Performer entry from the best performer selections.
func Tally(ev *models.Event) models.WinnerMap {
	winners := make(models.WinnerMap, len(ev.Criteria)+1)
	for _, c := range ev.Criteria {
		winners[c.Title] = leaders(countCriterion(ev, c.Key()))
	}
	if ev.IsTeamFormat() {
		winners[models.BestPerformerKey] = leaders(countSelections(ev.BestPerformerSelections))
	}
	return winners
}

func countCriterion(ev *models.Event, key string) map[string]int {
	counts := make(map[string]int)
	for _, ballot := range ev.CriteriaVotes {
		if choice := ballot[key]; choice != "" {
			counts[choice]++
		}
	}
	return counts
}

func countSelections(selections map[string]string) map[string]int {
	counts := make(map[string]int)
	for _, choice := range selections {
		if choice != "" {
			counts[choice]++
		}
	}
	return counts
}

// leaders returns every entity sharing the highest count, sorted
func leaders(counts map[string]int) models.WinnerEntry {
	best := 0
	for _, n := range counts {
		if n > best {
			best = n
		}
	}
	entry := models.WinnerEntry{}
	if best == 0 {
		return entry
	}
	for id, n := range counts {
		if n == best {
			entry = append(entry, id)
		}
	}
	sort.Strings(entry)
	return entry
}

// EntityCount is the number of votes one entity received under a criterion
type EntityCount struct {
	EntityID  string `json:"entityId"`
	VoteCount int    `json:"voteCount"`
	Rank      int    `json:"rank"`
}

// CriterionResult ranks the entities voted for under one criterion
type CriterionResult struct {
	Title      string        `json:"title"`
	Key        string        `json:"key"`
	Role       string        `json:"role"`
	Points     int           `json:"points"`
	TotalVotes int           `json:"totalVotes"`
	Votes      []EntityCount `json:"votes"`
	Tied       bool          `json:"tied"`
}

// EventResults contains the ranked ballots of an event
type EventResults struct {
	EventID    string            `json:"eventId"`
	VotingOpen bool              `json:"votingOpen"`
	Ballots    int               `json:"ballots"`
	Criteria   []CriterionResult `json:"criteria"`
	Computed   models.WinnerMap  `json:"computed"`
	Winners    models.WinnerMap  `json:"winners,omitempty"`
}

// ResultsService exposes vote counts to organizers
type ResultsService struct {
	log  logger.Logger
	repo repository.EventRepository
}

// NewResultsService creates a new ResultsService
func NewResultsService(log logger.Logger, repo repository.EventRepository) *ResultsService {
	return &ResultsService{log: log, repo: repo}
}

// Results returns per-criterion ranked counts once the event has completed
func (s *ResultsService) Results(ctx context.Context, actor models.Actor, eventID string) (*EventResults, error) {
	ev, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, storeError(err)
	}
	if err := requireOrganizer(actor, ev); err != nil {
		return nil, err
	}
	if ev.Status != models.StatusCompleted && ev.Status != models.StatusClosed {
		return nil, errors.Conflictf("results are not available while the event is %s", ev.Status)
	}

	results := &EventResults{
		EventID:    ev.ID,
		VotingOpen: ev.VotingOpen,
		Ballots:    len(ev.CriteriaVotes),
		Computed:   Tally(ev),
		Winners:    ev.Winners,
	}
	for _, c := range ev.Criteria {
		results.Criteria = append(results.Criteria, rank(c.Title, c.Key(), string(c.Role), c.Points, countCriterion(ev, c.Key())))
	}
	if ev.IsTeamFormat() {
		results.Criteria = append(results.Criteria, rank(models.BestPerformerKey, models.BestPerformerKey,
			string(models.RoleBestPerformer), 0, countSelections(ev.BestPerformerSelections)))
	}
	return results, nil
}

// rank orders counts by votes descending then id and flags a tie at the top
func rank(title, key, role string, points int, counts map[string]int) CriterionResult {
	result := CriterionResult{Title: title, Key: key, Role: role, Points: points, Votes: []EntityCount{}}
	for id, n := range counts {
		result.Votes = append(result.Votes, EntityCount{EntityID: id, VoteCount: n})
		result.TotalVotes += n
	}
	sort.Slice(result.Votes, func(i, j int) bool {
		if result.Votes[i].VoteCount != result.Votes[j].VoteCount {
			return result.Votes[i].VoteCount > result.Votes[j].VoteCount
		}
		return result.Votes[i].EntityID < result.Votes[j].EntityID
	})
	for i := range result.Votes {
		result.Votes[i].Rank = i + 1
	}
	if len(result.Votes) > 1 && result.Votes[0].VoteCount == result.Votes[1].VoteCount {
		result.Tied = true
	}
	return result
}
