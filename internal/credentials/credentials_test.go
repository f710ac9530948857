package credentials

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/example/class-scheduler/internal/crypto"
	"github.com/example/class-scheduler/internal/db"
	"github.com/example/class-scheduler/internal/internaltypes"
	"github.com/example/class-scheduler/internal/migrate"
)

func TestStatic(t *testing.T) {
	s := Static{
		"u1": {UserID: "u1", Username: "a@example.com", Password: "pw"},
		"u2": {UserID: "u2", Username: "b@example.com"},
	}
	ctx := context.Background()

	c, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", c.Username)

	for _, id := range []string{"u2", "nobody"} {
		_, err := s.Get(ctx, id)
		assert.Equal(t, internaltypes.KindCredentialsMissing, internaltypes.KindOf(err), id)
	}
	assert.Equal(t, "credentials/u1", Ref("u1"))
}

func TestRepoSealsPassword(t *testing.T) {
	url := os.Getenv("CLASSCHED_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CLASSCHED_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	d, err := db.Open(ctx, url)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, migrate.Up(ctx, d, zaptest.NewLogger(t)))

	aead, err := crypto.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	r := NewRepo(d, aead)

	uid := uuid.NewString()
	require.NoError(t, d.Exec(ctx, `INSERT INTO users(id, username, password_bcrypt) VALUES ($1,$2,'x')`, uid, "cred-"+uid))

	_, err = r.Get(ctx, uid)
	assert.Equal(t, internaltypes.KindCredentialsMissing, internaltypes.KindOf(err))

	require.NoError(t, r.Put(ctx, Credentials{UserID: uid, Username: "me@example.com", Password: "hunter2", MemberID: "M-1"}))
	var stored string
	require.NoError(t, d.QueryRow(ctx, `SELECT password_enc FROM provider_credentials WHERE user_id=$1`, uid).Scan(&stored))
	assert.NotContains(t, stored, "hunter2")

	c, err := r.Get(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", c.Password)
	assert.Equal(t, "M-1", c.MemberID)
}
