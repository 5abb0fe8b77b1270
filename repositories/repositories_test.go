package repositories

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/models"
)

func openTestDB(t *testing.T) *db.SQLQuerier {
	t.Helper()
	q, err := db.OpenSQLite(filepath.Join(t.TempDir(), "repo.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	if err := db.Migrate(context.Background(), q, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return q
}

func seedTeam(t *testing.T, repo TeamRepository, id string) {
	t.Helper()
	if err := repo.Create(context.Background(), &models.Team{ID: id, Name: "Team " + id, Category: "Under 12"}); err != nil {
		t.Fatalf("create team %s: %v", id, err)
	}
}

func TestTeamRepositoryCRUD(t *testing.T) {
	q := openTestDB(t)
	repo := NewTeamRepository(q)
	ctx := context.Background()

	seedTeam(t, repo, "t1")
	if err := repo.Create(ctx, &models.Team{ID: "t1", Name: "Dup"}); !errors.Is(err, ErrTeamConflict) {
		t.Fatalf("expected ErrTeamConflict, got %v", err)
	}

	team, err := repo.GetByID(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	team.Color = "#ff0000"
	if err := repo.Update(ctx, team); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := repo.GetByID(ctx, "t1")
	if got.Color != "#ff0000" {
		t.Fatalf("expected updated color, got %+v", got)
	}

	if err := repo.Update(ctx, &models.Team{ID: "missing", Name: "x"}); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected ErrTeamNotFound on update, got %v", err)
	}
	if err := repo.Delete(ctx, nil, "missing"); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected ErrTeamNotFound on delete, got %v", err)
	}
	if err := repo.Delete(ctx, nil, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, "t1"); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected ErrTeamNotFound after delete, got %v", err)
	}
}

func TestPlayerRepositoryListAndScrub(t *testing.T) {
	q := openTestDB(t)
	players := NewPlayerRepository(q)
	ctx := context.Background()

	for _, p := range []*models.Player{
		{ID: "p1", TeamID: "t1", Name: "Luca", Number: 9, Email: "luca@example.com"},
		{ID: "p2", TeamID: "t1", Name: "Marco", Number: 1},
		{ID: "p3", TeamID: "t2", Name: "Luca B", Number: 4, Email: "luca@example.com"},
	} {
		if err := players.Create(ctx, p); err != nil {
			t.Fatalf("create %s: %v", p.ID, err)
		}
	}

	inTeam, err := players.List(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(inTeam) != 2 || inTeam[0].ID != "p2" {
		t.Fatalf("expected team t1 players ordered by number, got %+v", inTeam)
	}

	byEmail, err := players.ListByEmail(ctx, "luca@example.com")
	if err != nil || len(byEmail) != 2 {
		t.Fatalf("expected 2 players by email, got %d (%v)", len(byEmail), err)
	}

	n, err := players.ScrubEmail(ctx, "luca@example.com")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 scrubbed rows, got %d (%v)", n, err)
	}
	p1, _ := players.GetByID(ctx, "p1")
	if p1.Email != "" {
		t.Fatalf("expected scrubbed email, got %q", p1.Email)
	}

	removed, err := players.DeleteByTeamID(ctx, nil, "t1")
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed players, got %d (%v)", removed, err)
	}
}

func newTestEvent(id, teamID string, convocati ...string) *models.Event {
	return &models.Event{
		ID:        id,
		TeamID:    teamID,
		Type:      models.EventTypeMatch,
		Title:     "Partita",
		Date:      "2026-10-18",
		Time:      "10:30",
		Location:  "Campo comunale",
		Convocati: convocati,
		CreatedBy: "coach@example.com",
		CreatedAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestEventRepositoryRoundTripsJSONColumns(t *testing.T) {
	q := openTestDB(t)
	events := NewEventRepository(q)
	ctx := context.Background()

	e := newTestEvent("e1", "t1", "p1", "p2")
	if err := events.Create(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.Version != 1 {
		t.Fatalf("expected version 1, got %d", e.Version)
	}

	got, err := events.GetByID(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Convocati) != 2 || got.Convocati[0] != "p1" || got.Convocati[1] != "p2" {
		t.Fatalf("unexpected convocati: %v", got.Convocati)
	}
	if got.Responses == nil || len(got.Responses) != 0 {
		t.Fatalf("expected empty responses map, got %v", got.Responses)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Fatalf("created_at mismatch: %v vs %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestEventRepositoryUpdateResponsesCAS(t *testing.T) {
	q := openTestDB(t)
	events := NewEventRepository(q)
	ctx := context.Background()

	if err := events.Create(ctx, newTestEvent("e1", "t1", "p1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	now := time.Now()
	responses := models.Responses{"p1": {Status: models.ResponseAccepted, RespondedAt: now}}

	if err := events.UpdateResponses(ctx, "e1", responses, 1, now); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := events.UpdateResponses(ctx, "e1", responses, 1, now); !errors.Is(err, ErrEventVersionConflict) {
		t.Fatalf("expected ErrEventVersionConflict with stale version, got %v", err)
	}
	if err := events.UpdateResponses(ctx, "missing", responses, 1, now); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}

	got, _ := events.GetByID(ctx, "e1")
	if got.Version != 2 || got.Responses["p1"].Status != models.ResponseAccepted || got.UpdatedAt == nil {
		t.Fatalf("unexpected event after update: %+v", got)
	}
}

func TestEventRepositoryReplace(t *testing.T) {
	q := openTestDB(t)
	events := NewEventRepository(q)
	ctx := context.Background()

	if err := events.Create(ctx, newTestEvent("e1", "t1", "p1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	e := newTestEvent("e1", "t1", "p1", "p3")
	e.Title = "Amichevole"
	if err := events.Replace(ctx, e, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	stale := 1
	if err := events.Replace(ctx, e, &stale); !errors.Is(err, ErrEventVersionConflict) {
		t.Fatalf("expected ErrEventVersionConflict, got %v", err)
	}
	current := 2
	if err := events.Replace(ctx, e, &current); err != nil {
		t.Fatalf("replace with current version: %v", err)
	}
	if err := events.Replace(ctx, newTestEvent("missing", "t1"), nil); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}

	got, _ := events.GetByID(ctx, "e1")
	if got.Title != "Amichevole" || got.Version != 3 || len(got.Convocati) != 2 {
		t.Fatalf("unexpected event after replace: %+v", got)
	}
}

func TestEventRepositoryMalformedJSON(t *testing.T) {
	q := openTestDB(t)
	events := NewEventRepository(q)
	ctx := context.Background()

	_, err := q.Exec(ctx, `INSERT INTO events (id, team_id, type, title, date, convocati, responses, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, "bad", "t1", "match", "x", "2026-10-18", "[not json", "{}", "2026-10-01T00:00:00Z")
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	if _, err := events.GetByID(ctx, "bad"); !errors.Is(err, db.ErrMalformedResult) {
		t.Fatalf("expected ErrMalformedResult, got %v", err)
	}
	if _, err := events.List(ctx, ""); !errors.Is(err, db.ErrMalformedResult) {
		t.Fatalf("expected ErrMalformedResult from list, got %v", err)
	}
}

func TestEventRepositoryReadsLegacyEmptyArrayResponses(t *testing.T) {
	q := openTestDB(t)
	events := NewEventRepository(q)
	ctx := context.Background()

	_, err := q.Exec(ctx, `INSERT INTO events (id, team_id, type, title, date, convocati, responses, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, "legacy", "t1", "training", "Allenamento", "2026-10-18", `["p1"]`, "[]", "2026-10-01T00:00:00Z")
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	list, err := events.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Responses == nil || len(list[0].Responses) != 0 {
		t.Fatalf("expected one event with empty responses, got %+v", list)
	}

	if err := events.UpdateResponses(ctx, "legacy", models.Responses{"p1": {Status: models.ResponseAccepted, RespondedAt: time.Now()}}, 1, time.Now()); err != nil {
		t.Fatalf("answer legacy event: %v", err)
	}
	got, err := events.GetByID(ctx, "legacy")
	if err != nil || got.Responses["p1"].Status != models.ResponseAccepted {
		t.Fatalf("expected stored answer, got %+v (%v)", got, err)
	}

	_, err = q.Exec(ctx, `INSERT INTO events (id, team_id, type, title, date, convocati, responses, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, "array", "t1", "training", "x", "2026-10-18", "[]", `[{"status":"accepted"}]`, "2026-10-01T00:00:00Z")
	if err != nil {
		t.Fatalf("insert array row: %v", err)
	}
	if _, err := events.GetByID(ctx, "array"); !errors.Is(err, db.ErrMalformedResult) {
		t.Fatalf("expected ErrMalformedResult for non-empty array, got %v", err)
	}
}

func TestEventRepositoryConcurrentCASKeepsEveryAnswer(t *testing.T) {
	q := openTestDB(t)
	events := NewEventRepository(q)
	ctx := context.Background()

	players := []string{"p1", "p2", "p3", "p4"}
	if err := events.Create(ctx, newTestEvent("e1", "t1", players...)); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(players))
	for _, id := range players {
		wg.Add(1)
		go func(playerID string) {
			defer wg.Done()
			for attempt := 0; attempt < 50; attempt++ {
				current, err := events.GetByID(ctx, "e1")
				if err != nil {
					errs <- err
					return
				}
				merged := current.Responses.Clone()
				merged[playerID] = models.Response{Status: models.ResponseAccepted, RespondedAt: time.Now()}
				err = events.UpdateResponses(ctx, "e1", merged, current.Version, time.Now())
				if errors.Is(err, ErrEventVersionConflict) {
					continue
				}
				errs <- err
				return
			}
			errs <- errors.New("retries exhausted")
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	got, _ := events.GetByID(ctx, "e1")
	if len(got.Responses) != len(players) {
		t.Fatalf("expected %d responses, got %v", len(players), got.Responses)
	}
}

func TestUserRoleRepository(t *testing.T) {
	q := openTestDB(t)
	roles := NewUserRoleRepository(q)
	ctx := context.Background()

	first := &models.UserRole{ID: "r1", Email: "Mister@Example.com", Role: models.RolePending, CreatedAt: time.Now()}
	created, err := roles.CreateIfMissing(ctx, first)
	if err != nil || !created {
		t.Fatalf("expected insert, got created=%v err=%v", created, err)
	}
	again, err := roles.CreateIfMissing(ctx, &models.UserRole{ID: "r2", Email: "mister@example.com", Role: models.RolePending, CreatedAt: time.Now()})
	if err != nil || again {
		t.Fatalf("expected no insert for existing email, got created=%v err=%v", again, err)
	}

	got, err := roles.GetByEmail(ctx, "MISTER@example.com")
	if err != nil || got.ID != "r1" || got.ApprovedBy != nil {
		t.Fatalf("unexpected lookup: %+v (%v)", got, err)
	}

	approver := "admin@example.com"
	if err := roles.UpdateRole(ctx, "r1", models.RoleCoach, &approver, time.Now()); err != nil {
		t.Fatalf("update role: %v", err)
	}
	got, _ = roles.GetByID(ctx, "r1")
	if got.Role != models.RoleCoach || got.ApprovedBy == nil || *got.ApprovedBy != approver || got.UpdatedAt == nil {
		t.Fatalf("unexpected record after update: %+v", got)
	}

	if err := roles.UpdateRole(ctx, "missing", models.RoleCoach, nil, time.Now()); !errors.Is(err, ErrUserRoleNotFound) {
		t.Fatalf("expected ErrUserRoleNotFound, got %v", err)
	}
	if err := roles.Delete(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := roles.GetByEmail(ctx, "mister@example.com"); !errors.Is(err, ErrUserRoleNotFound) {
		t.Fatalf("expected ErrUserRoleNotFound after delete, got %v", err)
	}
}

func TestConsentRepository(t *testing.T) {
	q := openTestDB(t)
	consents := NewConsentRepository(q)
	ctx := context.Background()

	c := &models.ParentalConsent{
		ID:                    "c1",
		ChildEmail:            "kid@example.com",
		ChildName:             "Giulio",
		ChildBirthDate:        "2014-05-02",
		ParentName:            "Anna",
		ParentSurname:         "Rossi",
		ParentEmail:           "anna@example.com",
		ParentPhone:           "+39 333 0000000",
		Relationship:          models.RelationshipMother,
		PrivacyAccepted:       true,
		TermsAccepted:         true,
		ParentalAuthorization: true,
		ConsentDate:           time.Now(),
		TokenHash:             "hash",
	}
	if err := consents.Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := consents.GetByID(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.PrivacyAccepted || !got.ParentalAuthorization || got.TokenHash != "hash" || got.ConfirmedAt != nil {
		t.Fatalf("unexpected consent: %+v", got)
	}

	if err := consents.MarkConfirmed(ctx, "c1", time.Now()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := consents.MarkConfirmed(ctx, "c1", time.Now()); err != nil {
		t.Fatalf("second confirm should be a no-op: %v", err)
	}
	if err := consents.MarkConfirmed(ctx, "missing", time.Now()); !errors.Is(err, ErrConsentNotFound) {
		t.Fatalf("expected ErrConsentNotFound, got %v", err)
	}

	list, err := consents.ListByChildEmail(ctx, "KID@example.com")
	if err != nil || len(list) != 1 || list[0].ConfirmedAt == nil {
		t.Fatalf("unexpected list: %+v (%v)", list, err)
	}
	n, err := consents.DeleteByChildEmail(ctx, "kid@example.com")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 deleted consent, got %d (%v)", n, err)
	}
}
