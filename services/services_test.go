package services

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/identity"
	"github.com/Dosada05/presenza-calcio/models"
	"github.com/Dosada05/presenza-calcio/repositories"
	"github.com/Dosada05/presenza-calcio/storage"
)

var (
	coach  = models.Principal{Email: "coach@example.com", Role: models.RoleCoach}
	admin  = models.Principal{Email: "admin@example.com", Role: models.RoleAdmin}
	player = models.Principal{Email: "luca@example.com", Role: models.RolePlayer}
	newbie = models.Principal{Email: "new@example.com", Role: models.RolePending}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	q        *db.SQLQuerier
	teams    repositories.TeamRepository
	players  repositories.PlayerRepository
	events   repositories.EventRepository
	roles    repositories.UserRoleRepository
	consents repositories.ConsentRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	q, err := db.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	if err := db.Migrate(context.Background(), q, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &testEnv{
		q:        q,
		teams:    repositories.NewTeamRepository(q),
		players:  repositories.NewPlayerRepository(q),
		events:   repositories.NewEventRepository(q),
		roles:    repositories.NewUserRoleRepository(q),
		consents: repositories.NewConsentRepository(q),
	}
}

// seedRoster creates team t1 with players p1 (luca@example.com) and p2.
func (e *testEnv) seedRoster(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := e.teams.Create(ctx, &models.Team{ID: "t1", Name: "Pulcini"}); err != nil {
		t.Fatalf("seed team: %v", err)
	}
	for _, p := range []*models.Player{
		{ID: "p1", TeamID: "t1", Name: "Luca", Number: 10, Email: "luca@example.com"},
		{ID: "p2", TeamID: "t1", Name: "Marco", Number: 7},
	} {
		if err := e.players.Create(ctx, p); err != nil {
			t.Fatalf("seed player: %v", err)
		}
	}
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages map[string][]any
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{messages: make(map[string][]any)}
}

func (b *recordingBroadcaster) BroadcastToRoom(room string, message any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[room] = append(b.messages[room], message)
}

func (b *recordingBroadcaster) count(room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[room])
}

type fakeProvider struct {
	mu          sync.Mutex
	users       map[string]*identity.User
	invitations map[string]int // pending invitations per email
	revokeErr   error
	created     int
	invited     int
	revoked     int
	deleted     []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{users: make(map[string]*identity.User), invitations: make(map[string]int)}
}

func (f *fakeProvider) FindUserByEmail(_ context.Context, email string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func (f *fakeProvider) CreateUser(_ context.Context, email, firstName, lastName string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[email]; ok {
		return nil, identity.ErrUserExists
	}
	u := &identity.User{ID: "user_" + email, FirstName: firstName, LastName: lastName}
	f.users[email] = u
	f.invitations[email]++
	f.created++
	return u, nil
}

func (f *fakeProvider) CreateInvitation(_ context.Context, email string) (*identity.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invitations[email]++
	f.invited++
	return &identity.Invitation{ID: "inv", EmailAddress: email, Status: "pending"}, nil
}

func (f *fakeProvider) RevokePendingInvitation(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revokeErr != nil {
		return false, f.revokeErr
	}
	if f.invitations[email] == 0 {
		return false, nil
	}
	f.invitations[email]--
	f.revoked++
	return true, nil
}

func (f *fakeProvider) DeleteUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for email, u := range f.users {
		if u.ID == userID {
			delete(f.users, email)
			f.deleted = append(f.deleted, userID)
			return nil
		}
	}
	return identity.ErrUserNotFound
}

type memoryArchives struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryArchives) Upload(_ context.Context, key, _ string, r io.Reader) (*storage.UploadResult, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = b
	return &storage.UploadResult{Key: key}, nil
}

func (m *memoryArchives) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryArchives) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://r2.test/" + key + "?expires=" + ttl.String(), nil
}

type sentMail struct {
	to, link string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) SendParentalConsentEmail(to, _, _, _, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, link: link})
	return nil
}
