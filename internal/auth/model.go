package auth

import "time"

const dateLayout = "2006-01-02"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	PhoneNumber  *string
	DateOfBirth  *time.Time
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the only projection of User that leaves the service.
type PublicUser struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
	DateOfBirth *string   `json:"date_of_birth,omitempty"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (u User) Public() PublicUser {
	out := PublicUser{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		PhoneNumber: u.PhoneNumber,
		IsAdmin:     u.IsAdmin,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	if u.DateOfBirth != nil {
		dob := u.DateOfBirth.Format(dateLayout)
		out.DateOfBirth = &dob
	}
	return out
}

type NewUser struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber *string
	DateOfBirth *time.Time
}

// ProfileUpdate leaves a field untouched when it is nil.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	PhoneNumber *string
	DateOfBirth *time.Time
}

type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

type IssuedToken struct {
	Token     string
	ID        string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (t IssuedToken) ExpiresIn() int64 {
	return int64(t.ExpiresAt.Sub(t.IssuedAt).Seconds())
}

type RevokedToken struct {
	JTI       string
	UserID    string
	Kind      TokenKind
	RevokedAt time.Time
	ExpiresAt time.Time
}

type AuthResult struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	User         PublicUser `json:"user"`
}

type AccessTokenResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type RegisterInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
	DateOfBirth string
}
