package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/1Password/connect-sdk-go/onepassword"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/hamon/engine/internal/testutil"
)

type fakeVault struct {
	items   map[string]*onepassword.Item
	lookups int
	err     error
}

func (v *fakeVault) GetItemsByTitle(title, vault string) ([]onepassword.Item, error) {
	v.lookups++
	if v.err != nil {
		return nil, v.err
	}
	if it, ok := v.items[vault+"/"+title]; ok {
		return []onepassword.Item{{ID: it.ID, Title: it.Title}}, nil
	}
	return nil, nil
}

func (v *fakeVault) GetItem(id, vault string) (*onepassword.Item, error) {
	for _, it := range v.items {
		if it.ID == id {
			return it, nil
		}
	}
	return nil, errors.New("no such item")
}

func newVault() *fakeVault {
	return &fakeVault{items: map[string]*onepassword.Item{
		"engine/smtp": {
			ID:    "item-1",
			Title: "smtp",
			Fields: []*onepassword.ItemField{
				{ID: "username", Label: "username", Value: "mailer"},
				{ID: "password", Label: "password", Value: "s3cret"},
			},
		},
		"ops/db": {
			ID:     "item-2",
			Title:  "db",
			Fields: []*onepassword.ItemField{{ID: "f1", Label: "url", Value: "postgres://db/hamon"}},
		},
	}}
}

func TestResolve_Literal(t *testing.T) {
	r := NewResolverWithSource(nil, "", testutil.NewTestLogger())
	v, err := r.Resolve(context.Background(), "plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", v)
}

func TestResolve_Env(t *testing.T) {
	r := NewResolverWithSource(nil, "", testutil.NewTestLogger())
	r.lookupEnv = func(name string) (string, bool) {
		if name == "SMTP_PASSWORD" {
			return "from-env", true
		}
		return "", false
	}

	v, err := r.Resolve(context.Background(), "env:SMTP_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	_, err = r.Resolve(context.Background(), "env:MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_OnePasswordDefaultVaultAndCache(t *testing.T) {
	vault := newVault()
	r := NewResolverWithSource(vault, "engine", testutil.NewTestLogger())

	v, err := r.Resolve(context.Background(), "op://smtp/password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	_, err = r.Resolve(context.Background(), "op://smtp/password")
	require.NoError(t, err)
	assert.Equal(t, 1, vault.lookups)
}

func TestResolve_OnePasswordExplicitVault(t *testing.T) {
	r := NewResolverWithSource(newVault(), "engine", testutil.NewTestLogger())
	v, err := r.Resolve(context.Background(), "op://ops/db/url")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/hamon", v)
}

func TestResolve_OnePasswordErrors(t *testing.T) {
	ctx := context.Background()

	r := NewResolverWithSource(nil, "engine", testutil.NewTestLogger())
	_, err := r.Resolve(ctx, "op://smtp/password")
	assert.ErrorIs(t, err, ErrNotConfigured)

	r = NewResolverWithSource(newVault(), "engine", testutil.NewTestLogger())
	_, err = r.Resolve(ctx, "op://missing/password")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve(ctx, "op://smtp/token")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve(ctx, "op://smtp")
	assert.ErrorIs(t, err, ErrInvalidReference)
	_, err = r.Resolve(ctx, "op://a//b")
	assert.ErrorIs(t, err, ErrInvalidReference)

	r = NewResolverWithSource(newVault(), "", testutil.NewTestLogger())
	_, err = r.Resolve(ctx, "op://smtp/password")
	assert.ErrorIs(t, err, ErrInvalidReference)

	failing := newVault()
	failing.err = errors.New("connect unavailable")
	r = NewResolverWithSource(failing, "engine", testutil.NewTestLogger())
	_, err = r.Resolve(ctx, "op://smtp/password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect unavailable")
}

func TestResolveAll(t *testing.T) {
	r := NewResolverWithSource(newVault(), "engine", testutil.NewTestLogger())
	user, pass, empty := "op://smtp/username", "op://smtp/password", ""

	require.NoError(t, r.ResolveAll(context.Background(), &user, &pass, &empty, nil))
	assert.Equal(t, "mailer", user)
	assert.Equal(t, "s3cret", pass)
	assert.Empty(t, empty)
}
