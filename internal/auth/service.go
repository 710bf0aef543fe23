package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"drugshop-serverless/internal/observability"
)

const (
	tokenTypeBearer = "Bearer"

	// backgroundTimeout bounds mail work that outlives its request.
	backgroundTimeout = 30 * time.Second
)

// Mailer is the outbound email contract. A false return means the message was not delivered.
type Mailer interface {
	SendPasswordResetEmail(ctx context.Context, to, name, code string) bool
	SendWelcomeEmail(ctx context.Context, to, name string) bool
}

type Metrics interface {
	RecordLogin(outcome string)
	RecordRegistration(outcome string)
	RecordTokenIssued(kind string)
	RecordRevocation(kind string)
	RecordResetStage(stage string)
}

type noopMetrics struct{}

func (noopMetrics) RecordLogin(string)        {}
func (noopMetrics) RecordRegistration(string) {}
func (noopMetrics) RecordTokenIssued(string)  {}
func (noopMetrics) RecordRevocation(string)   {}
func (noopMetrics) RecordResetStage(string)   {}

type resetConfirmInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	NewPassword string `json:"new_password" validate:"required,password"`
}

// Service runs the register, login, logout and password reset flows.
type Service struct {
	credentials *CredentialStore
	codes       CodeStore
	tokens      *TokenService
	mailer      Mailer
	validator   *Validator
	logger      *observability.Logger
	metrics     Metrics
	now         func() time.Time
	background  sync.WaitGroup
}

func NewService(credentials *CredentialStore, codes CodeStore, tokens *TokenService, mailer Mailer, validator *Validator, logger *observability.Logger) *Service {
	return &Service{
		credentials: credentials,
		codes:       codes,
		tokens:      tokens,
		mailer:      mailer,
		validator:   validator,
		logger:      logger,
		metrics:     noopMetrics{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithMetrics(metrics Metrics) *Service {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

func (s *Service) Credentials() *CredentialStore {
	return s.credentials
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	dob, err := ParseDateOfBirth(input.DateOfBirth, s.now())
	if err != nil {
		s.metrics.RecordRegistration("invalid")
		return AuthResult{}, err
	}

	user, err := s.credentials.Create(ctx, NewUser{
		Email:       input.Email,
		Password:    input.Password,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		PhoneNumber: optionalString(input.PhoneNumber),
		DateOfBirth: dob,
	})
	if err != nil {
		s.metrics.RecordRegistration(registrationOutcome(err))
		return AuthResult{}, err
	}

	result, err := s.issueSession(user)
	if err != nil {
		return AuthResult{}, err
	}
	s.metrics.RecordRegistration("created")

	s.dispatch(ctx, func(ctx context.Context) {
		if !s.mailer.SendWelcomeEmail(ctx, user.Email, user.FirstName) {
			s.logger.Warn("welcome_email_failed", map[string]any{"user_id": user.ID})
		}
	})

	return result, nil
}

// Login fails with ErrInvalidCredentials for unknown emails and wrong passwords alike.
func (s *Service) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		s.metrics.RecordLogin("invalid_credentials")
		return AuthResult{}, ErrInvalidCredentials
	}

	user, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.credentials.VerifyPassword(User{}, password)
			s.metrics.RecordLogin("invalid_credentials")
			return AuthResult{}, ErrInvalidCredentials
		}
		s.metrics.RecordLogin("error")
		return AuthResult{}, err
	}

	if !s.credentials.VerifyPassword(user, password) {
		s.metrics.RecordLogin("invalid_credentials")
		return AuthResult{}, ErrInvalidCredentials
	}

	result, err := s.issueSession(user)
	if err != nil {
		s.metrics.RecordLogin("error")
		return AuthResult{}, err
	}

	s.metrics.RecordLogin("success")
	return result, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (AccessTokenResult, error) {
	issued, err := s.tokens.Refresh(ctx, strings.TrimSpace(refreshToken))
	if err != nil {
		return AccessTokenResult{}, err
	}
	return AccessTokenResult{
		AccessToken: issued.Token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   issued.ExpiresIn(),
	}, nil
}

// Logout revokes the access token. A refresh token is revoked too when it belongs
// to the same subject; otherwise it is ignored.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := s.tokens.Revoke(ctx, claims); err != nil {
		return err
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	refreshClaims, err := s.tokens.Validate(ctx, refreshToken)
	if err != nil {
		if IsTokenError(err) {
			return nil
		}
		return err
	}
	if refreshClaims.Kind != TokenRefresh || refreshClaims.Subject != claims.Subject {
		s.logger.Warn("logout_refresh_token_mismatch", map[string]any{"user_id": claims.Subject})
		return nil
	}

	return s.tokens.Revoke(ctx, refreshClaims)
}

// Authenticate validates an access token for a protected request.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.tokens.Validate(ctx, strings.TrimSpace(accessToken))
	if err != nil {
		return nil, err
	}
	if claims.Kind != TokenAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequestPasswordReset reports success whether or not the account exists. Only an
// existing account gets a code, and issuing plus mailing it runs after the call
// returns so both cases take the same time.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if err := s.validator.Email(email); err != nil {
		return err
	}
	s.metrics.RecordResetStage("requested")

	user, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	s.dispatch(ctx, func(ctx context.Context) {
		s.sendResetCode(ctx, user)
	})
	return nil
}

func (s *Service) sendResetCode(ctx context.Context, user User) {
	code, err := s.codes.Issue(ctx, user.Email)
	if err != nil {
		s.metrics.RecordResetStage("code_issue_failed")
		s.logger.Error("password_reset_code_failed", map[string]any{"user_id": user.ID, "error": err.Error()})
		return
	}
	s.metrics.RecordResetStage("code_issued")

	if s.mailer.SendPasswordResetEmail(ctx, user.Email, user.FirstName, code) {
		s.metrics.RecordResetStage("email_dispatched")
		return
	}
	s.metrics.RecordResetStage("email_failed")
	s.logger.Error("password_reset_email_failed", map[string]any{"user_id": user.ID})

	// An undelivered code only widens the guessing window.
	if err := s.codes.Clear(ctx, user.Email); err != nil {
		s.logger.Error("password_reset_code_clear_failed", map[string]any{"user_id": user.ID, "error": err.Error()})
	}
}

// dispatch runs task off the request path with a context that survives the request.
func (s *Service) dispatch(ctx context.Context, task func(context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		task(taskCtx)
	}()
}

// Wait blocks until queued mail work has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// VerifyResetCode checks a code without consuming it.
func (s *Service) VerifyResetCode(ctx context.Context, email, code string) error {
	ok, err := s.codes.Verify(ctx, NormalizeEmail(email), strings.TrimSpace(code))
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

// ConfirmPasswordReset consumes the code before touching the password, so one code
// resets at most once. A failed update leaves the caller to request a new code.
func (s *Service) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	email = NormalizeEmail(email)
	if err := s.validator.Struct(resetConfirmInput{Email: email, NewPassword: newPassword}); err != nil {
		return err
	}

	ok, err := s.codes.Consume(ctx, email, strings.TrimSpace(code))
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.RecordResetStage("code_rejected")
		return ErrInvalidCode
	}

	user, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	if err := s.credentials.UpdatePassword(ctx, user, newPassword); err != nil {
		return err
	}

	s.metrics.RecordResetStage("completed")
	s.logger.Info("password_reset_completed", map[string]any{"user_id": user.ID})
	return nil
}

func (s *Service) issueSession(user User) (AuthResult, error) {
	access, err := s.tokens.IssueAccessToken(user.ID, user.IsAdmin)
	if err != nil {
		return AuthResult{}, err
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    access.ExpiresIn(),
		User:         user.Public(),
	}, nil
}

func registrationOutcome(err error) string {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		return "invalid"
	case errors.Is(err, ErrDuplicateEmail):
		return "duplicate"
	default:
		return "error"
	}
}
