package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/abrezinsky/eventxp/internal/actions"
	"github.com/abrezinsky/eventxp/internal/auth"
	"github.com/abrezinsky/eventxp/internal/handlers"
	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/metrics"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/repository"
	"github.com/abrezinsky/eventxp/internal/repository/mock"
	"github.com/abrezinsky/eventxp/internal/services"
	"github.com/abrezinsky/eventxp/internal/testutil"
)

// testAPI is a router over real services and an in-memory store
type testAPI struct {
	router  http.Handler
	metrics *metrics.Manager
}

func newTestAPI(t *testing.T, repo repository.FullRepository) *testAPI {
	t.Helper()
	log := logger.Discard()
	m := metrics.NewManager()
	opts := []services.Option{
		services.WithClock(testutil.FixedClock()),
		services.WithRecorder(m),
	}

	teams := services.NewTeamService(log, repo, services.DefaultTeamLimits, opts...)
	voting := services.NewVotingService(log, repo, opts...)
	h := handlers.New(handlers.Deps{
		Lifecycle:     services.NewLifecycleService(log, repo, time.UTC, opts...),
		Teams:         teams,
		Voting:        voting,
		Results:       services.NewResultsService(log, repo),
		Rewards:       services.NewRewardService(log, repo, services.DefaultRewardPolicy, opts...),
		Replayer:      actions.NewReplayer(log, actions.Services{Teams: teams, Voting: voting}),
		Store:         repo,
		Metrics:       m,
		Log:           log,
		PublicBaseURL: "https://events.example.com/",
	})
	return &testAPI{router: h.Router(), metrics: m}
}

func (a *testAPI) do(t *testing.T, method, path string, as *models.Actor, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set(auth.HeaderUserID, as.UserID)
		if as.Admin {
			req.Header.Set(auth.HeaderAdmin, "true")
		}
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	if code != "" {
		apiErr := decode[handlers.APIError](t, w)
		if apiErr.Code != code {
			t.Errorf("expected code %s, got %s (%s)", code, apiErr.Code, apiErr.Message)
		}
	}
}

var (
	admin = &models.Actor{UserID: "root", Admin: true}
	alice = &models.Actor{UserID: "alice"}
	bob   = &models.Actor{UserID: "bob"}
	carol = &models.Actor{UserID: "carol"}
	dave  = &models.Actor{UserID: "dave"}
)

func eventInput() services.EventInput {
	return services.EventInput{
		Details: models.EventDetails{
			EventName: "Hack Night",
			Type:      "hackathon",
			Date: models.DateRange{
				Start: time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC),
				End:   time.Date(2026, 3, 21, 17, 0, 0, 0, time.UTC),
			},
		},
		Criteria: []models.Criterion{
			{ConstraintIndex: 0, Title: "Best Code", Points: 40, Role: models.RoleDeveloper},
			{ConstraintIndex: 1, Title: "Best Demo", Points: 20, Role: models.RolePresenter},
		},
	}
}

func TestHealth(t *testing.T) {
	store := testutil.NewTestRepository(t)
	api := newTestAPI(t, store)

	w := api.do(t, http.MethodGet, "/healthz", nil, nil)
	expectStatus(t, w, http.StatusOK, "")
	if got := decode[handlers.HealthResponse](t, w); got.Status != "ok" {
		t.Errorf("expected ok, got %+v", got)
	}

	failing := mock.NewRepository(store)
	failing.PingError = stderrors.New("connection refused")
	api = newTestAPI(t, failing)

	w = api.do(t, http.MethodGet, "/healthz", nil, nil)
	expectStatus(t, w, http.StatusServiceUnavailable, "")
}

func TestMutationsRequireUser(t *testing.T) {
	api := newTestAPI(t, testutil.NewTestRepository(t))

	w := api.do(t, http.MethodPost, "/api/events", nil, eventInput())
	expectStatus(t, w, http.StatusUnauthorized, handlers.ErrCodeUnauthorized)

	// Reads stay public
	w = api.do(t, http.MethodGet, "/api/events", nil, nil)
	expectStatus(t, w, http.StatusOK, "")
}

// TestEventLifecycle walks an event from request to completion over HTTP
func TestEventLifecycle(t *testing.T) {
	api := newTestAPI(t, testutil.NewTestRepository(t))

	w := api.do(t, http.MethodPost, "/api/events", alice, eventInput())
	expectStatus(t, w, http.StatusCreated, "")
	created := decode[services.Outcome](t, w)
	id := created.Event.ID
	if created.Event.Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", created.Event.Status)
	}

	// Only admins approve
	w = api.do(t, http.MethodPost, "/api/events/"+id+"/status", alice, handlers.StatusRequest{Status: models.StatusApproved})
	expectStatus(t, w, http.StatusForbidden, handlers.ErrCodeForbidden)

	w = api.do(t, http.MethodPost, "/api/events/"+id+"/status", admin, handlers.StatusRequest{Status: models.StatusApproved})
	expectStatus(t, w, http.StatusOK, "")

	w = api.do(t, http.MethodPost, "/api/events/"+id+"/status", admin, handlers.StatusRequest{Status: models.StatusRejected, Reason: "late"})
	expectStatus(t, w, http.StatusConflict, handlers.ErrCodeConflict)

	for _, who := range []*models.Actor{bob, carol} {
		w = api.do(t, http.MethodPost, "/api/events/"+id+"/participants", who, nil)
		expectStatus(t, w, http.StatusOK, "")
	}

	for _, next := range []models.EventStatus{models.StatusInProgress, models.StatusCompleted} {
		w = api.do(t, http.MethodPost, "/api/events/"+id+"/status", alice, handlers.StatusRequest{Status: next})
		expectStatus(t, w, http.StatusOK, "")
	}

	w = api.do(t, http.MethodGet, "/api/events/"+id, nil, nil)
	expectStatus(t, w, http.StatusOK, "")
	ev := decode[models.Event](t, w)
	if ev.Status != models.StatusCompleted || len(ev.Participants) != 2 {
		t.Errorf("expected completed event with 2 participants, got %s %v", ev.Status, ev.Participants)
	}

	w = api.do(t, http.MethodGet, "/api/events?status=completed&organizer=alice", nil, nil)
	expectStatus(t, w, http.StatusOK, "")
	if list := decode[handlers.EventsResponse](t, w); list.Count != 1 || list.Events[0].ID != id {
		t.Errorf("expected the event in the filtered list, got %+v", list)
	}

	w = api.do(t, http.MethodGet, "/api/events?status=bogus", nil, nil)
	expectStatus(t, w, http.StatusBadRequest, handlers.ErrCodeValidation)
}

func TestCreateEvent_BadInput(t *testing.T) {
	api := newTestAPI(t, testutil.NewTestRepository(t))

	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader("{not json"))
	req.Header.Set(auth.HeaderUserID, "alice")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusBadRequest, handlers.ErrCodeBadRequest)

	in := eventInput()
	in.Details.EventName = ""
	w = api.do(t, http.MethodPost, "/api/events", alice, in)
	expectStatus(t, w, http.StatusBadRequest, handlers.ErrCodeValidation)
}

func TestGetEvent_NotFound(t *testing.T) {
	api := newTestAPI(t, testutil.NewTestRepository(t))

	w := api.do(t, http.MethodGet, "/api/events/missing", nil, nil)
	expectStatus(t, w, http.StatusNotFound, handlers.ErrCodeNotFound)
}

func seedCompleted(t *testing.T, repo repository.EventRepository) {
	t.Helper()
	in := eventInput()
	testutil.SeedEvent(t, repo, &models.Event{
		ID:            "e1",
		Status:        models.StatusCompleted,
		RequestedBy:   "alice",
		Details:       in.Details,
		Criteria:      in.Criteria,
		Participants:  []string{"bob", "carol", "dave"},
		ChildEventIDs: []string{},
	})
}

// TestVotingToAward runs ballots, finalization and an award pass over HTTP
func TestVotingToAward(t *testing.T) {
	store := testutil.NewTestRepository(t)
	seedCompleted(t, store)
	api := newTestAPI(t, store)

	w := api.do(t, http.MethodPost, "/api/events/e1/voting", alice, handlers.VotingRequest{Open: true})
	expectStatus(t, w, http.StatusOK, "")

	w = api.do(t, http.MethodPost, "/api/events/e1/ballots/individual", carol, handlers.IndividualBallotRequest{Votes: map[string]string{"0": "carol"}})
	expectStatus(t, w, http.StatusBadRequest, handlers.ErrCodeValidation)

	for _, voter := range []*models.Actor{bob, dave} {
		w = api.do(t, http.MethodPost, "/api/events/e1/ballots/individual", voter, handlers.IndividualBallotRequest{Votes: map[string]string{"0": "carol", "1": "carol"}})
		expectStatus(t, w, http.StatusOK, "")
	}

	// Winners wait for voting to close
	w = api.do(t, http.MethodPost, "/api/events/e1/winners/finalize", alice, nil)
	expectStatus(t, w, http.StatusConflict, handlers.ErrCodeConflict)

	w = api.do(t, http.MethodPost, "/api/events/e1/voting", alice, handlers.VotingRequest{Open: false})
	expectStatus(t, w, http.StatusOK, "")

	w = api.do(t, http.MethodGet, "/api/events/e1/results", bob, nil)
	expectStatus(t, w, http.StatusForbidden, handlers.ErrCodeForbidden)

	w = api.do(t, http.MethodGet, "/api/events/e1/results", alice, nil)
	expectStatus(t, w, http.StatusOK, "")
	if results := decode[services.EventResults](t, w); results.Ballots != 2 {
		t.Errorf("expected 2 ballots, got %+v", results)
	}

	w = api.do(t, http.MethodPost, "/api/events/e1/winners/finalize", alice, nil)
	expectStatus(t, w, http.StatusOK, "")
	finalized := decode[services.Outcome](t, w)
	if got := finalized.Event.Winners["0"]; len(got) != 1 || got[0] != "carol" {
		t.Errorf("expected carol to win Best Code, got %v", got)
	}

	w = api.do(t, http.MethodPost, "/api/events/e1/award", alice, nil)
	expectStatus(t, w, http.StatusOK, "")
	result := decode[services.AwardResult](t, w)
	if result.AlreadyAwarded || result.Users != 4 || result.Applied != 4 {
		t.Errorf("expected 4 users paid, got %+v", result)
	}

	w = api.do(t, http.MethodPost, "/api/events/e1/award", alice, nil)
	expectStatus(t, w, http.StatusOK, "")
	if again := decode[services.AwardResult](t, w); !again.AlreadyAwarded {
		t.Errorf("expected second pass to be a no-op, got %+v", again)
	}

	w = api.do(t, http.MethodGet, "/api/users/carol/ledger", nil, nil)
	expectStatus(t, w, http.StatusOK, "")
	carolLedger := decode[models.Ledger](t, w)

	w = api.do(t, http.MethodGet, "/api/users/bob/ledger", nil, nil)
	bobLedger := decode[models.Ledger](t, w)
	if carolLedger.TotalXP() <= bobLedger.TotalXP() || carolLedger.Wins() != 1 {
		t.Errorf("expected carol ahead with a win, got carol %v bob %v", carolLedger.Fields, bobLedger.Fields)
	}

	w = api.do(t, http.MethodGet, "/api/leaderboard?limit=2", nil, nil)
	expectStatus(t, w, http.StatusOK, "")
	board := decode[handlers.LeaderboardResponse](t, w)
	if len(board.Ledgers) != 2 || board.Ledgers[0].UserID != "carol" {
		t.Errorf("expected carol on top of a 2 entry board, got %+v", board.Ledgers)
	}
}

func TestLeaderboard_InvalidLimit(t *testing.T) {
	api := newTestAPI(t, testutil.NewTestRepository(t))

	w := api.do(t, http.MethodGet, "/api/leaderboard?limit=abc", nil, nil)
	expectStatus(t, w, http.StatusBadRequest, handlers.ErrCodeBadRequest)

	w = api.do(t, http.MethodGet, "/api/leaderboard?limit=500", nil, nil)
	expectStatus(t, w, http.StatusBadRequest, handlers.ErrCodeValidation)
}

// TestAwardXP_PartialFailure tests that a failed ledger write surfaces as a 502
func TestAwardXP_PartialFailure(t *testing.T) {
	store := testutil.NewTestRepository(t)
	seedCompleted(t, store)
	ctx := context.Background()
	_, err := store.UpdateEvent(ctx, "e1", func(ev *models.Event) error {
		ev.Winners = models.WinnerMap{"0": {"carol"}}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to set winners: %v", err)
	}

	failing := mock.NewRepository(store)
	failing.ApplyAwardErrors = map[string]error{"bob": stderrors.New("throttled")}
	api := newTestAPI(t, failing)

	w := api.do(t, http.MethodPost, "/api/events/e1/award", alice, nil)
	expectStatus(t, w, http.StatusBadGateway, handlers.ErrCodePartialFailure)

	ev, _ := store.GetEvent(ctx, "e1")
	if ev.XPAwardingStatus != models.XPFailed {
		t.Errorf("expected failed award status, got %s", ev.XPAwardingStatus)
	}
}

func TestTeamsEndpoints(t *testing.T) {
	store := testutil.NewTestRepository(t)
	testutil.SeedEvent(t, store, &models.Event{
		ID:          "t1",
		Status:      models.StatusApproved,
		RequestedBy: "alice",
		Details:     models.EventDetails{EventName: "Jam", Type: "jam", Format: models.FormatTeam, MaxTeamMembers: 2},
		Teams:       []models.Team{{ID: "red", TeamName: "Red", Members: []string{}}},
	})
	api := newTestAPI(t, store)

	w := api.do(t, http.MethodPost, "/api/events/t1/teams", alice, handlers.TeamNameRequest{TeamName: "Blue"})
	expectStatus(t, w, http.StatusCreated, "")

	w = api.do(t, http.MethodPost, "/api/events/t1/teams/join", bob, handlers.TeamNameRequest{TeamName: "blue"})
	expectStatus(t, w, http.StatusOK, "")
	joined := decode[services.Outcome](t, w)
	if idx, ok := joined.Event.TeamIndexOf("bob"); !ok || joined.Event.Teams[idx].TeamName != "Blue" {
		t.Errorf("expected bob on Blue, got %+v", joined.Event.Teams)
	}

	w = api.do(t, http.MethodPost, "/api/events/t1/teams/join", bob, handlers.TeamNameRequest{TeamName: "Red"})
	expectStatus(t, w, http.StatusConflict, handlers.ErrCodeConflict)

	w = api.do(t, http.MethodPost, "/api/events/t1/teams/auto", bob, handlers.AutoGenerateRequest{Roster: []string{"carol"}})
	expectStatus(t, w, http.StatusForbidden, handlers.ErrCodeForbidden)

	w = api.do(t, http.MethodPost, "/api/events/t1/teams/leave", bob, nil)
	expectStatus(t, w, http.StatusOK, "")
}

func TestReplay(t *testing.T) {
	store := testutil.NewTestRepository(t)
	testutil.SeedEvent(t, store, &models.Event{
		ID:          "e2",
		Status:      models.StatusApproved,
		RequestedBy: "alice",
		Details:     models.EventDetails{EventName: "Jam", Type: "jam", Format: models.FormatTeam, MaxTeamMembers: 3},
		Teams:       []models.Team{{ID: "t1", TeamName: "Red", Members: []string{}}},
	})
	api := newTestAPI(t, store)

	w := api.do(t, http.MethodPost, "/api/actions/replay", bob, handlers.ReplayRequest{})
	expectStatus(t, w, http.StatusBadRequest, handlers.ErrCodeBadRequest)

	w = api.do(t, http.MethodPost, "/api/actions/replay", bob, handlers.ReplayRequest{Actions: []actions.Envelope{
		{ID: "a", Kind: actions.KindRegisterParticipant, Payload: json.RawMessage(`{"eventId":"e2"}`)},
		{ID: "b", Kind: actions.KindJoinTeam, Payload: json.RawMessage(`{"eventId":"e2","teamName":"Red"}`)},
	}})
	expectStatus(t, w, http.StatusOK, "")
	resp := decode[handlers.ReplayResponse](t, w)
	if resp.Succeeded != 1 || resp.Failed != 1 || resp.Results[0].OK || !resp.Results[1].OK {
		t.Errorf("expected registration refused and join applied, got %+v", resp)
	}

	ev, _ := store.GetEvent(context.Background(), "e2")
	if _, ok := ev.TeamIndexOf("bob"); !ok {
		t.Error("expected bob to be on a team")
	}
	if ev.IsParticipant("bob") {
		t.Error("expected registration not to be replayed")
	}
}

func TestEventQR(t *testing.T) {
	store := testutil.NewTestRepository(t)
	seedCompleted(t, store)
	api := newTestAPI(t, store)

	w := api.do(t, http.MethodGet, "/api/events/e1/qr?size=128", nil, nil)
	expectStatus(t, w, http.StatusOK, "")
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("expected a PNG body")
	}

	w = api.do(t, http.MethodGet, "/api/events/e1/qr?size=5", nil, nil)
	expectStatus(t, w, http.StatusBadRequest, handlers.ErrCodeBadRequest)

	w = api.do(t, http.MethodGet, "/api/events/nope/qr", nil, nil)
	expectStatus(t, w, http.StatusNotFound, handlers.ErrCodeNotFound)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, testutil.NewTestRepository(t))

	api.do(t, http.MethodGet, "/api/events/missing", nil, nil)

	w := api.do(t, http.MethodGet, "/metrics", nil, nil)
	expectStatus(t, w, http.StatusOK, "")
	body := w.Body.String()
	if !strings.Contains(body, `eventxp_http_requests_total{method="GET",route="/api/events/{id}",status_code="404"} 1`) {
		t.Errorf("expected request counter for the event route, got:\n%s", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, testutil.NewTestRepository(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", auth.HeaderUserID)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}
