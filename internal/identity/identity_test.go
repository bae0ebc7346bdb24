package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"matchguard/internal/apierr"
	"matchguard/internal/identity"
)

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestJWTOracleResolvesRole(t *testing.T) {
	secret := []byte("test-secret")
	oracle := identity.NewJWTOracle(secret, "matchguard", "", nil)

	tok := signToken(t, secret, jwt.MapClaims{
		"sub":  "admin-1",
		"role": "admin",
		"iss":  "matchguard",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	caller, err := oracle.Resolve(context.Background(), "Bearer "+tok)
	require.NoError(t, err)
	require.Equal(t, "admin-1", caller.Subject)
	require.Equal(t, identity.RoleAdmin, caller.Role)
	require.True(t, caller.HasAtLeast(identity.RoleAdmin))
}

func TestJWTOracleRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	oracle := identity.NewJWTOracle(secret, "matchguard", "", nil)

	tok := signToken(t, secret, jwt.MapClaims{
		"sub": "player-1",
		"iss": "matchguard",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := oracle.Resolve(context.Background(), "Bearer "+tok)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindAuth, apiErr.Kind)
}

func TestJWTOracleDefaultsUnknownRoleToPlayer(t *testing.T) {
	secret := []byte("test-secret")
	oracle := identity.NewJWTOracle(secret, "matchguard", "", nil)

	tok := signToken(t, secret, jwt.MapClaims{
		"sub": "player-2",
		"iss": "matchguard",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	caller, err := oracle.Resolve(context.Background(), "Bearer "+tok)
	require.NoError(t, err)
	require.Equal(t, identity.RolePlayer, caller.Role)
}

type fakeBanChecker struct{ banned map[string]bool }

func (f fakeBanChecker) IsBanned(_ context.Context, subject string, _ time.Time) (bool, error) {
	return f.banned[subject], nil
}

func TestJWTOracleFlagsBannedSubject(t *testing.T) {
	secret := []byte("test-secret")
	oracle := identity.NewJWTOracle(secret, "matchguard", "", fakeBanChecker{banned: map[string]bool{"cheater-1": true}})

	tok := signToken(t, secret, jwt.MapClaims{
		"sub": "cheater-1",
		"iss": "matchguard",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	caller, err := oracle.Resolve(context.Background(), "Bearer "+tok)
	require.NoError(t, err)
	require.True(t, caller.Banned)
}
