package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const (
	DefaultCodeTTL  = 15 * time.Minute
	codeDigits      = 6
	codeSpace       = 1_000_000
	memoryCodeLimit = 10_000

	// MaxCodeAttempts wrong guesses burn the live code for an email.
	MaxCodeAttempts = 5
)

// CodeStore holds at most one live verification code per normalized email.
type CodeStore interface {
	Issue(ctx context.Context, email string) (string, error)
	Verify(ctx context.Context, email, code string) (bool, error)
	Consume(ctx context.Context, email, code string) (bool, error)
	Clear(ctx context.Context, email string) error
}

// GenerateCode returns a uniformly random six digit code with leading zeros kept.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func codesEqual(stored, submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

type codeEntry struct {
	code      string
	expiresAt time.Time
	misses    int
}

// MemoryCodeStore keeps codes in process memory. Codes do not survive a restart and
// are not shared between instances; use RedisCodeStore when running more than one.
type MemoryCodeStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]codeEntry
	maxItems int
	now      func() time.Time
	generate func() (string, error)
}

func NewMemoryCodeStore(ttl time.Duration) *MemoryCodeStore {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &MemoryCodeStore{
		ttl:      ttl,
		entries:  make(map[string]codeEntry),
		maxItems: memoryCodeLimit,
		now:      func() time.Time { return time.Now().UTC() },
		generate: GenerateCode,
	}
}

func (s *MemoryCodeStore) Issue(_ context.Context, email string) (string, error) {
	code, err := s.generate()
	if err != nil {
		return "", err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[NormalizeEmail(email)] = codeEntry{code: code, expiresAt: now.Add(s.ttl)}

	if len(s.entries) > s.maxItems {
		for key, entry := range s.entries {
			if now.After(entry.expiresAt) {
				delete(s.entries, key)
			}
		}
	}

	return code, nil
}

// Verify reports whether code matches without using it up.
func (s *MemoryCodeStore) Verify(_ context.Context, email, code string) (bool, error) {
	return s.check(email, code, false), nil
}

// Consume matches and deletes the code in one step, so a code succeeds at most once.
func (s *MemoryCodeStore) Consume(_ context.Context, email, code string) (bool, error) {
	return s.check(email, code, true), nil
}

func (s *MemoryCodeStore) check(email, code string, consume bool) bool {
	key := NormalizeEmail(email)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false
	}
	if now.After(entry.expiresAt) {
		delete(s.entries, key)
		return false
	}

	if !codesEqual(entry.code, code) {
		entry.misses++
		if entry.misses >= MaxCodeAttempts {
			delete(s.entries, key)
		} else {
			s.entries[key] = entry
		}
		return false
	}

	if consume {
		delete(s.entries, key)
	}
	return true
}

func (s *MemoryCodeStore) Clear(_ context.Context, email string) error {
	s.mu.Lock()
	delete(s.entries, NormalizeEmail(email))
	s.mu.Unlock()
	return nil
}
