package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hullclient/pkg/claims"
	"hullclient/pkg/problems"
)

var creds = Credentials{ID: "562123b470df84b740000042", Secret: "1234"}

func decode(t *testing.T, raw string, key string) map[string]any {
	t.Helper()
	got, err := Decode(raw, key)
	require.NoError(t, err)
	return got
}

func TestLookupTokenWithStringSubject(t *testing.T) {
	raw, err := LookupToken(creds, "user", map[claims.EntityType]claims.Claim{
		claims.User: claims.FromID("123"),
	}, AdditionalClaims{})
	require.NoError(t, err)

	got := decode(t, raw, creds.Secret)
	require.Equal(t, "123", got["sub"])
	require.Equal(t, creds.ID, got["iss"])
	require.Equal(t, "user", got[SubjectTypeClaim])
	require.NotContains(t, got, "io.hull.asUser")
	require.IsType(t, time.Time{}, got["iat"])
}

func TestLookupTokenWithObjectSubject(t *testing.T) {
	raw, err := LookupToken(creds, "Account", map[claims.EntityType]claims.Claim{
		claims.Account: claims.FromFields(map[string]any{"domain": "hull.io"}),
	}, AdditionalClaims{})
	require.NoError(t, err)

	got := decode(t, raw, creds.Secret)
	require.Equal(t, map[string]any{"domain": "hull.io"}, got["io.hull.asAccount"])
	require.Equal(t, "account", got[SubjectTypeClaim])
	require.NotContains(t, got, "sub")
}

func TestLookupTokenUsesObjectIDAsSubject(t *testing.T) {
	raw, err := LookupToken(creds, "user", map[claims.EntityType]claims.Claim{
		claims.User: claims.FromFields(map[string]any{"id": "abc", "email": "a@b.c"}),
	}, AdditionalClaims{})
	require.NoError(t, err)

	got := decode(t, raw, creds.Secret)
	require.Equal(t, "abc", got["sub"])
	require.Equal(t, map[string]any{"id": "abc", "email": "a@b.c"}, got["io.hull.asUser"])
}

func TestLookupTokenLinksUserIDToAccount(t *testing.T) {
	raw, err := LookupToken(creds, "account", map[claims.EntityType]claims.Claim{
		claims.User:    claims.FromID("1234"),
		claims.Account: claims.FromFields(map[string]any{"domain": "hull.io"}),
	}, AdditionalClaims{})
	require.NoError(t, err)

	got := decode(t, raw, creds.Secret)
	require.Equal(t, "account", got[SubjectTypeClaim])
	require.Equal(t, map[string]any{"id": "1234"}, got["io.hull.asUser"])
	require.Equal(t, map[string]any{"domain": "hull.io"}, got["io.hull.asAccount"])
	require.NotContains(t, got, "sub")
}

func TestLookupTokenSkipsEmptyClaims(t *testing.T) {
	raw, err := LookupToken(creds, "account", map[claims.EntityType]claims.Claim{
		claims.User:    claims.FromFields(map[string]any{"email": "foo@bar.com"}),
		claims.Account: {},
	}, AdditionalClaims{})
	require.NoError(t, err)

	got := decode(t, raw, creds.Secret)
	require.NotContains(t, got, "io.hull.asAccount")
	require.Equal(t, map[string]any{"email": "foo@bar.com"}, got["io.hull.asUser"])
}

func TestLookupTokenAdditionalClaims(t *testing.T) {
	byType := map[claims.EntityType]claims.Claim{claims.User: claims.FromFields(map[string]any{"email": "foo@bar.com"})}

	raw, err := LookupToken(creds, "user", byType, AdditionalClaims{
		Create:    Bool(false),
		Active:    Bool(true),
		Scopes:    []string{"admin"},
		NotBefore: "1500000000",
		ExpiresAt: float64(4102444800),
	})
	require.NoError(t, err)
	got := decode(t, raw, creds.Secret)
	require.Equal(t, false, got[CreateClaim])
	require.Equal(t, true, got[ActiveClaim])
	require.Equal(t, []any{"admin"}, got[ScopesClaim])
	require.Equal(t, int64(1500000000), got["nbf"].(time.Time).Unix())
	require.Equal(t, int64(4102444800), got["exp"].(time.Time).Unix())

	raw, err = LookupToken(creds, "user", byType, AdditionalClaims{})
	require.NoError(t, err)
	got = decode(t, raw, creds.Secret)
	require.NotContains(t, got, CreateClaim)
	require.NotContains(t, got, ActiveClaim)
	require.NotContains(t, got, ScopesClaim)
}

func TestLookupTokenSignsWithAccessTokenWhenPresent(t *testing.T) {
	c := creds
	c.AccessToken = "scoped-token"
	raw, err := LookupToken(c, "user", map[claims.EntityType]claims.Claim{claims.User: claims.FromID("1")}, AdditionalClaims{})
	require.NoError(t, err)

	_, err = Decode(raw, creds.Secret)
	require.Error(t, err)
	decode(t, raw, "scoped-token")
}

func TestLookupTokenErrors(t *testing.T) {
	_, err := LookupToken(creds, "lead", nil, AdditionalClaims{})
	require.ErrorIs(t, err, problems.ErrUnsupportedSubjectType)

	_, err = LookupToken(Credentials{ID: creds.ID}, "user", nil, AdditionalClaims{})
	require.ErrorIs(t, err, problems.ErrMissingConfig)

	_, err = LookupToken(creds, "user", nil, AdditionalClaims{ExpiresAt: "soon"})
	require.Error(t, err)
}

func TestLookupTokenIssuedAt(t *testing.T) {
	fixed := time.Unix(1600000000, 0)
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = time.Now })

	raw, err := LookupToken(creds, "user", map[claims.EntityType]claims.Claim{claims.User: claims.FromID("1")}, AdditionalClaims{})
	require.NoError(t, err)
	got := decode(t, raw, creds.Secret)
	require.Equal(t, fixed.Unix(), got["iat"].(time.Time).Unix())
}

func TestAdditionalClaimsMerge(t *testing.T) {
	base := AdditionalClaims{Create: Bool(true), Scopes: []string{"a"}}
	got := base.Merge(AdditionalClaims{Create: Bool(false), Active: Bool(true)})
	require.False(t, *got.Create)
	require.True(t, *got.Active)
	require.Equal(t, []string{"a"}, got.Scopes)
}

func TestAdditionalClaimsMergeKeepsEmptyScopes(t *testing.T) {
	got := AdditionalClaims{}.Merge(AdditionalClaims{Scopes: []string{}})
	require.NotNil(t, got.Scopes)
	require.Empty(t, got.Scopes)
}

func TestSignAndCurrentUserID(t *testing.T) {
	sig, err := Sign(creds, "1500000000-user-1")
	require.NoError(t, err)
	require.Len(t, sig, 40)

	ok, err := CurrentUserID(creds, "user-1", "1500000000."+sig)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = CurrentUserID(creds, "user-2", "1500000000."+sig)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = CurrentUserID(creds, "user-1", "")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = Sign(Credentials{}, "x")
	require.ErrorIs(t, err, problems.ErrMissingConfig)
}
