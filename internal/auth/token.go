package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/pawtrack/internal/auth/domain"
	"github.com/smallbiznis/pawtrack/internal/clock"
	"github.com/smallbiznis/pawtrack/internal/config"
	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
)

const minSecretLength = 32

// Manager issues and verifies HS256 access tokens.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

func NewManager(cfg config.Config, clk clock.Clock) (*Manager, error) {
	secret := cfg.AuthJWTSecret
	if secret == "" {
		if cfg.IsProduction() {
			return nil, domain.ErrNoSecret
		}
		secret = "pawtrack-development-secret-change-me"
	}
	if len(secret) < minSecretLength && cfg.IsProduction() {
		return nil, fmt.Errorf("auth secret must be at least %d characters", minSecretLength)
	}
	return newManager(secret, cfg.AuthJWTIssuer, cfg.AuthTokenTTL, clk), nil
}

func newManager(secret, issuer string, ttl time.Duration, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), issuer: issuer, ttl: ttl, clock: clk}
}

// Issue signs a token for principal.
func (m *Manager) Issue(principal entitlementdomain.Principal) (string, time.Time, error) {
	if principal.UserID == 0 {
		return "", time.Time{}, domain.ErrInvalidClaims
	}
	now := m.clock.Now()
	expiresAt := now.Add(m.ttl)
	claims := domain.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Tier:      string(principal.Tier),
		Admin:     principal.IsAdmin,
		SuperUser: principal.IsSuperUser,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies raw and returns the principal it was issued for.
func (m *Manager) Parse(raw string) (entitlementdomain.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return entitlementdomain.Principal{}, domain.ErrMissingToken
	}

	var claims domain.Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.clock.Now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return entitlementdomain.Principal{}, domain.ErrTokenExpired
		}
		return entitlementdomain.Principal{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	userID, err := snowflake.ParseString(claims.Subject)
	if err != nil || userID == 0 {
		return entitlementdomain.Principal{}, domain.ErrInvalidClaims
	}

	return entitlementdomain.Principal{
		UserID:      userID,
		Tier:        entitlementdomain.ParseTier(claims.Tier),
		IsAdmin:     claims.Admin || claims.SuperUser,
		IsSuperUser: claims.SuperUser,
	}, nil
}
