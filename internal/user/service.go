package user

import (
	"context"
	"errors"
	"time"

	"go-chat-server/internal/chat"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type Service struct {
	repo      *Repository
	jwtSecret string
}

type MyJWTClaims struct {
	ID       int    `json:"id"`
	Nickname string `json:"nickname"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, secret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
	}
}

// Register creates the account with a hashed password and returns the new
// user id.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (int, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	u := &User{
		Username: req.Username,
		Nickname: req.Nickname,
		Password: string(hashedPwd),
	}

	created, err := s.repo.CreateUser(ctx, u)
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GenerateToken(userID int, nickname string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       userID,
		Nickname: nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "go-chat-server",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}

func (s *Service) ValidateToken(tokenString string) (int, string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return 0, "", err
	}
	return claims.ID, claims.Nickname, nil
}

// ParseExpiredToken verifies the token's signature but not its expiry.
// Used by the refresh endpoint, whose callers hold a token that may have
// just lapsed.
func (s *Service) ParseExpiredToken(tokenString string) (int, string, error) {
	claims := &MyJWTClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return 0, "", err
	}
	return claims.ID, claims.Nickname, nil
}

// ListUsers implements chat.UserDirectory. Online flags are filled in by
// the caller, which owns the connection registry.
func (s *Service) ListUsers(ctx context.Context) ([]chat.UserChat, error) {
	users, err := s.repo.AllUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]chat.UserChat, 0, len(users))
	for _, u := range users {
		out = append(out, chat.UserChat{UserID: u.ID, Nickname: u.Nickname})
	}
	return out, nil
}
