package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 6

// User is a registered account
type User struct {
	CreatedAt    time.Time `json:"createdAt"`
	ID           string    `json:"-"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
}

// Result is returned by Register and Login
type Result struct {
	ExpiresAt time.Time `json:"expiresAt"`
	User      *User     `json:"user"`
	Token     string    `json:"token"`
}

// Claims are the JWT claims of an access token. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// UserRepository persists accounts
type UserRepository interface {
	// Create stores a new user and assigns its ID
	Create(ctx context.Context, user *User) error

	// GetByID returns ErrUserNotFound when absent
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail returns ErrUserNotFound when absent. Emails compare lowercase.
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// Provider is the server side of the auth contract
type Provider interface {
	Register(ctx context.Context, email, password string) (*Result, error)
	Login(ctx context.Context, email, password string) (*Result, error)

	// Verify checks a token and returns the claims it carries
	Verify(ctx context.Context, token string) (*Claims, error)

	// Logout revokes a token until it would have expired anyway
	Logout(ctx context.Context, token string) error

	GetUser(ctx context.Context, id string) (*User, error)
}
