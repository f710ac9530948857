// Package credentials stores each user's login for the class provider.
// Jobs only ever carry a reference to these, never the password.
package credentials

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/example/class-scheduler/internal/crypto"
	"github.com/example/class-scheduler/internal/db"
	"github.com/example/class-scheduler/internal/internaltypes"
)

type Credentials struct {
	UserID        string
	Username      string
	Password      string
	MemberID      string
	PrimaryName   string
	SecondaryName string
	UpdatedAt     time.Time
}

func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// Ref is the opaque handle the bot uses to fetch credentials at run time.
func Ref(userID string) string { return "credentials/" + userID }

// Provider looks up a user's credentials. Missing credentials are reported
// as an internaltypes credentials_missing error.
type Provider interface {
	Get(ctx context.Context, userID string) (Credentials, error)
}

type Repo struct {
	db   *db.DB
	aead *crypto.AEAD
}

func NewRepo(d *db.DB, aead *crypto.AEAD) *Repo { return &Repo{db: d, aead: aead} }

func (r *Repo) Get(ctx context.Context, userID string) (Credentials, error) {
	var c Credentials
	var sealed string
	err := r.db.QueryRow(ctx, `
SELECT user_id, username, password_enc, member_id, primary_name, secondary_name, updated_at
FROM provider_credentials WHERE user_id=$1`, userID).
		Scan(&c.UserID, &c.Username, &sealed, &c.MemberID, &c.PrimaryName, &c.SecondaryName, &c.UpdatedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return Credentials{}, internaltypes.CredentialsMissing()
		}
		return Credentials{}, db.WrapNotFound(err)
	}
	if sealed != "" {
		if c.Password, err = r.aead.Open(sealed, userID); err != nil {
			return Credentials{}, errors.Wrapf(err, "credentials for %s", userID)
		}
	}
	if !c.Complete() {
		return Credentials{}, internaltypes.CredentialsMissing()
	}
	return c, nil
}

func (r *Repo) Put(ctx context.Context, c Credentials) error {
	if c.UserID == "" || !c.Complete() {
		return internaltypes.Validation("user id, username and password are required")
	}
	sealed, err := r.aead.Seal(c.Password, c.UserID)
	if err != nil {
		return err
	}
	return r.db.Exec(ctx, `
INSERT INTO provider_credentials(user_id, username, password_enc, member_id, primary_name, secondary_name, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,now())
ON CONFLICT (user_id) DO UPDATE SET
	username=EXCLUDED.username,
	password_enc=EXCLUDED.password_enc,
	member_id=EXCLUDED.member_id,
	primary_name=EXCLUDED.primary_name,
	secondary_name=EXCLUDED.secondary_name,
	updated_at=now()`,
		c.UserID, c.Username, sealed, c.MemberID, c.PrimaryName, c.SecondaryName)
}

// Static serves credentials from memory.
type Static map[string]Credentials

func (s Static) Get(_ context.Context, userID string) (Credentials, error) {
	c, ok := s[userID]
	if !ok || !c.Complete() {
		return Credentials{}, internaltypes.CredentialsMissing()
	}
	return c, nil
}
