package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexzee/corpersafe/internal/db"
	"github.com/lexzee/corpersafe/internal/shared/apperrors"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

var (
	validate = validator.New()

	hashPasswordFn    = bcrypt.GenerateFromPassword
	parseWithClaimsFn = jwt.ParseWithClaims
	signTokenFn       = (*Service).signToken
)

type Service struct {
	secret []byte
	db     db.Querier
}

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func NewService(secret string, db db.Querier) *Service {
	return &Service{
		secret: []byte(secret),
		db:     db,
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, TokenResponse, error) {
	if err := validate.Struct(req); err != nil {
		return User{}, TokenResponse{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	hash, err := hashPasswordFn([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, TokenResponse{}, err
	}

	user := User{
		ID:             uuid.NewString(),
		Email:          req.Email,
		PasswordHash:   string(hash),
		FullName:       req.FullName,
		Phone:          req.Phone,
		Role:           RolePCM,
		NextOfKin:      req.NextOfKin,
		NextOfKinEmail: req.NextOfKinEmail,
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, full_name, phone, role, next_of_kin, next_of_kin_email)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at
	`, user.ID, user.Email, user.PasswordHash, user.FullName, user.Phone, user.Role, user.NextOfKin, user.NextOfKinEmail)
	if err := row.Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, TokenResponse{}, err
	}

	tokens, err := s.GenerateTokens(ctx, user.ID, user.Role)
	if err != nil {
		return User{}, TokenResponse{}, err
	}
	return user, tokens, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (User, TokenResponse, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, full_name, phone, role, next_of_kin, next_of_kin_email, created_at, updated_at
		FROM users WHERE email = $1
	`, req.Email)

	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FullName, &user.Phone, &user.Role,
		&user.NextOfKin, &user.NextOfKinEmail, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, TokenResponse{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return User{}, TokenResponse{}, errors.New("invalid credentials")
	}

	tokens, err := s.GenerateTokens(ctx, user.ID, user.Role)
	if err != nil {
		return User{}, TokenResponse{}, err
	}
	return user, tokens, nil
}

const profileColumns = `id, email, full_name, phone, role, next_of_kin, next_of_kin_email, created_at, updated_at, COALESCE(jurisdiction,'')`

func (s *Service) Profile(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM users WHERE id = $1`, userID)
	return scanProfile(row)
}

// UpdateProfile replaces the traveller's name, phone and next-of-kin
// details. Role and jurisdiction are not editable here.
func (s *Service) UpdateProfile(ctx context.Context, userID string, req ProfileUpdate) (User, error) {
	if err := validate.Struct(req); err != nil {
		return User{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	row := s.db.QueryRow(ctx, `
		UPDATE users
		SET full_name = $2, phone = $3, next_of_kin = $4, next_of_kin_email = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+profileColumns, userID, req.FullName, req.Phone, req.NextOfKin, req.NextOfKinEmail)
	return scanProfile(row)
}

func scanProfile(row pgx.Row) (User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.FullName, &user.Phone, &user.Role,
		&user.NextOfKin, &user.NextOfKinEmail, &user.CreatedAt, &user.UpdatedAt, &user.Jurisdiction); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("user: %w", apperrors.ErrNotFound)
		}
		return User{}, err
	}
	return user, nil
}

func (s *Service) GenerateTokens(ctx context.Context, userID, role string) (TokenResponse, error) {
	access, err := signTokenFn(s, userID, role, accessTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	refresh, err := signTokenFn(s, userID, role, refreshTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	if err := s.saveRefreshToken(ctx, refresh, userID, refreshTokenTTL); err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
	}, nil
}

// ValidateRefreshToken checks the signature and the stored, unrevoked copy
// of the token and returns the claims it was issued with.
func (s *Service) ValidateRefreshToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, err
	}

	userID, expiresAt, err := s.lookupRefreshToken(ctx, token)
	if err != nil || userID != claims.UserID || time.Now().After(expiresAt) {
		return nil, errors.New("refresh token invalid")
	}
	return claims, nil
}

func (s *Service) ValidateAccessToken(token string) (*Claims, error) {
	return s.parseToken(token)
}

func (s *Service) signToken(userID, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := parseWithClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func (s *Service) saveRefreshToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at)
		VALUES ($1,$2,$3,$4)
	`, uuid.NewString(), userID, token, time.Now().Add(ttl))
	return err
}

func (s *Service) lookupRefreshToken(ctx context.Context, token string) (string, time.Time, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, expires_at
		FROM refresh_tokens
		WHERE token = $1 AND revoked_at IS NULL
	`, token)
	var userID string
	var expiresAt time.Time
	if err := row.Scan(&userID, &expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return userID, expiresAt, nil
}
