package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frahmantamala/league-payments/internal"
)

const defaultTokenTTL = 12 * time.Hour

// Claims identifies the operator behind a request.
type Claims struct {
	OperatorID string `json:"operator_id"`
	jwt.RegisteredClaims
}

// TokenValidator is what the middleware depends on. *JWTTokenIssuer satisfies it.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// JWTTokenIssuer signs and verifies HS256 operator tokens.
type JWTTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTTokenIssuer(cfg internal.SecurityConfig) *JWTTokenIssuer {
	ttl := cfg.AccessTokenDuration
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &JWTTokenIssuer{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// GenerateToken returns a signed token for operatorID and when it expires.
func (j *JWTTokenIssuer) GenerateToken(operatorID string) (string, time.Time, error) {
	if operatorID == "" {
		return "", time.Time{}, internal.NewValidationFieldError("operator_id", "operator id is required", internal.ErrCodeValidationFailed)
	}
	issuedAt := j.now()
	expiresAt := issuedAt.Add(j.ttl)
	claims := &Claims{
		OperatorID: operatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (j *JWTTokenIssuer) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, internal.ErrInvalidToken
	}
	if claims.OperatorID == "" {
		claims.OperatorID = claims.Subject
	}
	if claims.OperatorID == "" {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}
