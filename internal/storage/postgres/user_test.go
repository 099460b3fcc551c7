package postgres_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/nightraid/internal/credential"
	"github.com/cory-johannsen/nightraid/internal/storage"
	"github.com/cory-johannsen/nightraid/internal/storage/postgres"
	"github.com/cory-johannsen/nightraid/internal/testutil"
)

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano()%1_000_000_000)
}

func setupUserRepo(t *testing.T) *postgres.UserRepository {
	t.Helper()
	pc := testutil.NewPostgresContainer(t)
	digest, err := credential.NewDigester(strings.Repeat("p", 32))
	require.NoError(t, err)
	return postgres.NewUserRepository(pc.RawPool, digest)
}

func newToken(t *testing.T) string {
	t.Helper()
	gen, err := credential.NewTokenGenerator(credential.DefaultTokenBytes)
	require.NoError(t, err)
	tok, err := gen()
	require.NoError(t, err)
	return tok
}

func TestUserRepository_CreateAndFindByToken(t *testing.T) {
	repo := setupUserRepo(t)
	ctx := context.Background()
	token := newToken(t)

	created, err := repo.CreateUser(ctx, uniqueName("raider"), token)
	require.NoError(t, err)
	assert.Greater(t, created.ID, int64(0))
	assert.Equal(t, int64(0), created.Balance)
	assert.True(t, created.LastLogin.IsZero())
	assert.NotEqual(t, token, created.TokenDigest, "cleartext token must not be stored")

	found, err := repo.FindUserByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, created.Username, found.Username)
}

func TestUserRepository_FindUnknownToken(t *testing.T) {
	repo := setupUserRepo(t)
	_, err := repo.FindUserByToken(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUserRepository_DuplicateUsername(t *testing.T) {
	repo := setupUserRepo(t)
	ctx := context.Background()
	name := uniqueName("dup")

	_, err := repo.CreateUser(ctx, name, newToken(t))
	require.NoError(t, err)
	_, err = repo.CreateUser(ctx, name, newToken(t))
	assert.ErrorIs(t, err, storage.ErrUserExists)
}

func TestUserRepository_DuplicateToken(t *testing.T) {
	repo := setupUserRepo(t)
	ctx := context.Background()
	token := newToken(t)

	_, err := repo.CreateUser(ctx, uniqueName("a"), token)
	require.NoError(t, err)
	_, err = repo.CreateUser(ctx, uniqueName("b"), token)
	assert.ErrorIs(t, err, storage.ErrTokenCollision)
}

func TestUserRepository_UpdateUser(t *testing.T) {
	repo := setupUserRepo(t)
	ctx := context.Background()
	token := newToken(t)

	u, err := repo.CreateUser(ctx, uniqueName("upd"), token)
	require.NoError(t, err)

	u.LastLogin = time.Now().UTC().Truncate(time.Microsecond)
	u.MachineAddress = "198.51.100.4"
	require.NoError(t, repo.UpdateUser(ctx, u))

	got, err := repo.FindUserByToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, u.LastLogin.Equal(got.LastLogin))
	assert.Equal(t, "198.51.100.4", got.MachineAddress)

	err = repo.UpdateUser(ctx, storage.User{ID: 999999})
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUserRepository_RotateToken(t *testing.T) {
	repo := setupUserRepo(t)
	ctx := context.Background()
	oldToken, newTok := newToken(t), newToken(t)
	name := uniqueName("rot")

	_, err := repo.CreateUser(ctx, name, oldToken)
	require.NoError(t, err)

	rotated, err := repo.RotateToken(ctx, name, newTok)
	require.NoError(t, err)
	assert.Equal(t, name, rotated.Username)

	_, err = repo.FindUserByToken(ctx, oldToken)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
	_, err = repo.FindUserByToken(ctx, newTok)
	assert.NoError(t, err)

	_, err = repo.RotateToken(ctx, "missing-user", newToken(t))
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUserRepository_GetByUsername(t *testing.T) {
	repo := setupUserRepo(t)
	ctx := context.Background()
	name := uniqueName("get")

	_, err := repo.CreateUser(ctx, name, newToken(t))
	require.NoError(t, err)

	u, err := repo.GetByUsername(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, name, u.Username)

	_, err = repo.GetByUsername(ctx, "missing-user")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestPool_HealthAndStats(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	ctx := context.Background()

	require.NoError(t, pc.Pool.Health(ctx, 5*time.Second))

	var appName string
	require.NoError(t, pc.RawPool.QueryRow(ctx, "SELECT current_setting('application_name')").Scan(&appName))
	assert.Equal(t, "nightraid-test", appName)

	s := pc.Pool.Stats()
	assert.Equal(t, int32(pc.Config.MaxConns), s.Max)
	assert.GreaterOrEqual(t, s.Total, int32(1))
	assert.Equal(t, int32(0), s.Acquired)
}

func TestMigrator_DownThenUp(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)

	m, err := postgres.NewMigrator(pc.DSN())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Down())
	_, _, err = m.Version()
	assert.ErrorIs(t, err, migrate.ErrNilVersion)

	require.NoError(t, m.Up())
	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	assert.NoError(t, postgres.MigrateUp(pc.DSN()), "re-applying is a no-op")
}
