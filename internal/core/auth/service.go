package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTokenTTL is the lifetime of an access token
	DefaultTokenTTL = 24 * time.Hour

	tokenIssuer      = "quill"
	maxRevokedTokens = 10000
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Config configures the provider
type Config struct {
	Secret   []byte        // HS256 signing key, required
	TokenTTL time.Duration // DefaultTokenTTL when zero
	// BcryptCost defaults to bcrypt.DefaultCost
	BcryptCost int
}

type provider struct {
	repo    UserRepository
	revoked *expirable.LRU[string, struct{}] // token ids revoked by Logout
	logger  *slog.Logger
	now     func() time.Time
	secret  []byte
	ttl     time.Duration
	cost    int
}

// NewProvider creates the account provider
func NewProvider(repo UserRepository, cfg Config, logger *slog.Logger) (Provider, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &provider{
		repo:    repo,
		revoked: expirable.NewLRU[string, struct{}](maxRevokedTokens, nil, ttl),
		logger:  logger,
		now:     time.Now,
		secret:  cfg.Secret,
		ttl:     ttl,
		cost:    cost,
	}, nil
}

// Register creates an account and signs it in
func (p *provider) Register(ctx context.Context, email, password string) (*Result, error) {
	email = normalizeEmail(email)
	if !emailRegex.MatchString(email) {
		return nil, &InvalidEmailError{Email: email}
	}
	if len(password) < MinPasswordLength {
		return nil, &WeakPasswordError{MinLength: MinPasswordLength}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to hash password: %w", err)
	}
	user := &User{
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    p.now().UTC(),
	}
	if err := p.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	p.logger.Info("account registered", "user_id", user.ID)
	return p.issue(user)
}

// Login checks credentials and issues a token
func (p *provider) Login(ctx context.Context, email, password string) (*Result, error) {
	user, err := p.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		p.logger.Info("login rejected", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	return p.issue(user)
}

// Verify parses and checks a token
func (p *provider) Verify(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or token id", ErrInvalidToken)
	}
	if p.revoked.Contains(claims.ID) {
		return nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}
	return claims, nil
}

// Logout revokes the token. Revoking an invalid token is an error.
func (p *provider) Logout(ctx context.Context, token string) error {
	claims, err := p.Verify(ctx, token)
	if err != nil {
		return err
	}
	p.revoked.Add(claims.ID, struct{}{})
	p.logger.Info("signed out", "user_id", claims.Subject)
	return nil
}

func (p *provider) GetUser(ctx context.Context, id string) (*User, error) {
	return p.repo.GetByID(ctx, id)
}

func (p *provider) issue(user *User) (*Result, error) {
	now := p.now()
	expiresAt := now.Add(p.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: user.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to sign token: %w", err)
	}
	return &Result{User: user, Token: signed, ExpiresAt: expiresAt}, nil
}
