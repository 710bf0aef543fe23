package auth

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"drugshop-serverless/internal/observability"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeUserRepo struct {
	mu      sync.Mutex
	byID      map[string]User
	failErr   error
	updateErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[string]User)}
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return User{}, r.failErr
	}
	for _, u := range r.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return User{}, r.failErr
	}
	u, ok := r.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) Insert(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	r.byID[user.ID] = user
	return nil
}

func (r *fakeUserRepo) UpdatePasswordHash(_ context.Context, id, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	u, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = at
	r.byID[id] = u
	return nil
}

func (r *fakeUserRepo) UpdateProfile(_ context.Context, id string, update ProfileUpdate, at time.Time) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	if update.FirstName != nil {
		u.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		u.LastName = *update.LastName
	}
	if update.PhoneNumber != nil {
		u.PhoneNumber = update.PhoneNumber
	}
	if update.DateOfBirth != nil {
		u.DateOfBirth = update.DateOfBirth
	}
	u.UpdatedAt = at
	r.byID[id] = u
	return u, nil
}

func (r *fakeUserRepo) UpsertAdmin(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, u := range r.byID {
		if u.Email == user.Email {
			u.PasswordHash = user.PasswordHash
			u.IsAdmin = true
			r.byID[id] = u
			return nil
		}
	}
	user.IsAdmin = true
	r.byID[user.ID] = user
	return nil
}

func (r *fakeUserRepo) setAdmin(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.byID[id]
	u.IsAdmin = true
	r.byID[id] = u
}

func (r *fakeUserRepo) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

type fakeRevocations struct {
	mu      sync.Mutex
	revoked map[string]RevokedToken
	inserts int
}

func newFakeRevocations() *fakeRevocations {
	return &fakeRevocations{revoked: make(map[string]RevokedToken)}
}

func (f *fakeRevocations) Revoke(_ context.Context, token RevokedToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if _, ok := f.revoked[token.JTI]; !ok {
		f.revoked[token.JTI] = token
	}
	return nil
}

func (f *fakeRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[jti]
	return ok, nil
}

func (f *fakeRevocations) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.revoked)
}

type sentMail struct {
	template string
	to       string
	name     string
	code     string
}

// fakeMailer reads settle before reporting so background sends have landed.
type fakeMailer struct {
	mu     sync.Mutex
	sent   []sentMail
	fail   bool
	delay  time.Duration
	settle func()
}

func (m *fakeMailer) SendPasswordResetEmail(_ context.Context, to, name, code string) bool {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{template: "password_reset", to: to, name: name, code: code})
	return !m.fail
}

func (m *fakeMailer) SendWelcomeEmail(_ context.Context, to, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{template: "welcome", to: to, name: name})
	return !m.fail
}

func (m *fakeMailer) lastResetCode() string {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].template == "password_reset" {
			return m.sent[i].code
		}
	}
	return ""
}

func (m *fakeMailer) wait() {
	if m.settle != nil {
		m.settle()
	}
}

func (m *fakeMailer) count(template string) int {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.template == template {
			n++
		}
	}
	return n
}

type testEnv struct {
	clock       *testClock
	users       *fakeUserRepo
	revocations *fakeRevocations
	mailer      *fakeMailer
	codes       *MemoryCodeStore
	credentials *CredentialStore
	tokens      *TokenService
	service     *Service
	logs        *bytes.Buffer
}

const testSecret = "test-secret-test-secret-test-secret"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newTestClock()
	users := newFakeUserRepo()
	revocations := newFakeRevocations()
	mailer := &fakeMailer{}
	validator := NewValidator()

	credentials := NewCredentialStore(users, NewPasswordHasher(bcrypt.MinCost), validator)
	credentials.now = clock.Now

	codes := NewMemoryCodeStore(DefaultCodeTTL)
	codes.now = clock.Now

	tokens := NewTokenService(testSecret, "drugshop-test", DefaultTokenPolicy(), revocations, credentials)
	tokens.now = clock.Now

	logs := &bytes.Buffer{}
	service := NewService(credentials, codes, tokens, mailer, validator, observability.NewLoggerTo(logs, true))
	service.now = clock.Now
	mailer.settle = service.Wait

	return &testEnv{
		clock:       clock,
		users:       users,
		revocations: revocations,
		mailer:      mailer,
		codes:       codes,
		credentials: credentials,
		tokens:      tokens,
		service:     service,
		logs:        logs,
	}
}

func (e *testEnv) register(t *testing.T, email, password string) AuthResult {
	t.Helper()
	result, err := e.service.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  password,
		FirstName: "Alice",
		LastName:  "Nakato",
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return result
}

// logged waits for background work before reading the captured log output.
func (e *testEnv) logged() string {
	e.service.Wait()
	return e.logs.String()
}
