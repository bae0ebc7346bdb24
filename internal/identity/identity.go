// Package identity implements the IdentityOracle collaborator (spec C? /
// caller-identity resolution for matchauthority, governance, and slashing).
// It follows the teacher's services/otc-gateway/auth JWT verification shape,
// trimmed to the roles this system actually checks.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"matchguard/internal/apierr"
)

// Role is the caller's authorization level (spec §6.1 "Admin=2, System=3").
type Role int

const (
	RolePlayer Role = 0
	RoleSigner Role = 1
	RoleAdmin  Role = 2
	RoleSystem Role = 3
)

// Caller is the resolved identity attached to every authenticated request.
type Caller struct {
	Subject string
	Role    Role
	Banned  bool
}

// HasAtLeast reports whether the caller's role meets or exceeds min.
func (c Caller) HasAtLeast(min Role) bool { return c.Role >= min }

// BanChecker reports whether a subject currently carries a ban, consulted
// when resolving a Caller so that banned identities are flagged even if
// their token is otherwise valid.
type BanChecker interface {
	IsBanned(ctx context.Context, subject string, now time.Time) (bool, error)
}

// Oracle resolves a bearer token into a Caller (spec C-Identity).
type Oracle interface {
	Resolve(ctx context.Context, bearerToken string) (Caller, error)
}

var roleByClaim = map[string]Role{
	"player": RolePlayer,
	"signer": RoleSigner,
	"admin":  RoleAdmin,
	"system": RoleSystem,
}

// JWTOracle validates bearer tokens signed with a single shared HS256
// secret, mirroring the teacher's jwtVerifier but without the RSA/WebAuthn
// machinery the OTC gateway needed for external partner onboarding.
type JWTOracle struct {
	secret   []byte
	issuer   string
	audience string
	bans     BanChecker
	now      func() time.Time
}

// NewJWTOracle constructs a JWTOracle. bans may be nil, in which case every
// Caller resolves with Banned=false.
func NewJWTOracle(secret []byte, issuer, audience string, bans BanChecker) *JWTOracle {
	return &JWTOracle{secret: secret, issuer: issuer, audience: audience, bans: bans, now: time.Now}
}

func (o *JWTOracle) Resolve(ctx context.Context, bearerToken string) (Caller, error) {
	tokenStr := strings.TrimSpace(strings.TrimPrefix(bearerToken, "Bearer"))
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return Caller{}, apierr.New(apierr.KindAuth, apierr.CodeUnauthorized, "missing bearer token")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(o.issuer))
	if o.audience != "" {
		parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(o.issuer), jwt.WithAudience(o.audience))
	}

	_, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return o.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Caller{}, apierr.New(apierr.KindAuth, apierr.CodeUnauthorized, "token expired")
		}
		return Caller{}, apierr.Wrap(apierr.KindAuth, apierr.CodeUnauthorized, fmt.Errorf("invalid token: %w", err))
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return Caller{}, apierr.New(apierr.KindAuth, apierr.CodeUnauthorized, "token missing subject")
	}

	roleClaim, _ := claims["role"].(string)
	role, ok := roleByClaim[strings.ToLower(roleClaim)]
	if !ok {
		role = RolePlayer
	}

	caller := Caller{Subject: subject, Role: role}
	if o.bans != nil {
		banned, err := o.bans.IsBanned(ctx, subject, o.now())
		if err != nil {
			return Caller{}, err
		}
		caller.Banned = banned
	}
	return caller, nil
}

// StaticOracle is a fixed-map Oracle used by tests, grounded on the same
// shape the teacher's fakes use for externally-injected identity.
type StaticOracle struct {
	Callers map[string]Caller
}

func NewStaticOracle() *StaticOracle { return &StaticOracle{Callers: map[string]Caller{}} }

func (s *StaticOracle) Resolve(_ context.Context, bearerToken string) (Caller, error) {
	c, ok := s.Callers[bearerToken]
	if !ok {
		return Caller{}, apierr.New(apierr.KindAuth, apierr.CodeUnauthorized, "unknown token")
	}
	return c, nil
}
