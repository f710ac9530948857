package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/class-scheduler/internal/db"
	"github.com/example/class-scheduler/internal/internaltypes"
)

const (
	cookieName = "classched_session"
	sessionTTL = 14 * 24 * time.Hour
)

// Users persists local accounts. Lookup returns internaltypes.ErrNotFound
// for an unknown username.
type Users interface {
	Lookup(ctx context.Context, username string) (id, hash string, err error)
	Insert(ctx context.Context, id, username, hash string) error
}

type Store struct {
	sc    *securecookie.SecureCookie
	users Users
}

type ctxKey string

const userIDKey ctxKey = "userID"

func NewStore(users Users, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionTTL.Seconds()))
	return &Store{sc: sc, users: users}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
	return err == nil
}

// CreateUser registers a local account and returns its generated id.
func (s *Store) CreateUser(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", internaltypes.Validation("username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.users.Insert(ctx, id, username, hash); err != nil {
		return "", errors.Wrapf(err, "create user %q", username)
	}
	return id, nil
}

// Authenticate returns the user id for a valid username/password pair. Any
// mismatch, including an unknown username, is ErrUnauthorized.
func (s *Store) Authenticate(ctx context.Context, username, password string) (string, error) {
	id, hash, err := s.users.Lookup(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, internaltypes.ErrNotFound) {
			return "", internaltypes.ErrUnauthorized
		}
		return "", err
	}
	if !CheckPassword(hash, password) {
		return "", internaltypes.ErrUnauthorized
	}
	return id, nil
}

type Session struct {
	UserID string
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, userID string) error {
	val := map[string]string{"uid": userID, "v": "1"}
	encoded, err := s.sc.Encode(cookieName, val)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) GetSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	val := map[string]string{}
	if err := s.sc.Decode(cookieName, c.Value, &val); err != nil {
		return Session{}, false
	}
	uid := val["uid"]
	if uid == "" {
		return Session{}, false
	}
	return Session{UserID: uid}, true
}

// RequireAuth rejects requests without a valid session cookie with a JSON
// 401 and otherwise stores the user id in the request context.
func (s *Store) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.GetSession(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":     internaltypes.KindUnauthorized,
				"message":   "login required",
				"retryable": false,
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sess.UserID)))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userIDKey).(string)
	return uid, ok && uid != ""
}

// PGUsers keeps accounts in the users table.
type PGUsers struct {
	db *db.DB
}

func NewPGUsers(d *db.DB) *PGUsers { return &PGUsers{db: d} }

func (u *PGUsers) Lookup(ctx context.Context, username string) (string, string, error) {
	var id, hash string
	err := u.db.QueryRow(ctx, `SELECT id, password_bcrypt FROM users WHERE username=$1`, username).Scan(&id, &hash)
	if err != nil {
		return "", "", db.WrapNotFound(err)
	}
	return id, hash, nil
}

func (u *PGUsers) Insert(ctx context.Context, id, username, hash string) error {
	return u.db.Exec(ctx, `INSERT INTO users(id, username, password_bcrypt) VALUES ($1,$2,$3)`, id, username, hash)
}

// MemoryUsers is a process-local account table for the memory store driver.
type MemoryUsers struct {
	mu     sync.Mutex
	byName map[string][2]string
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byName: map[string][2]string{}}
}

func (m *MemoryUsers) Lookup(_ context.Context, username string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byName[username]
	if !ok {
		return "", "", internaltypes.ErrNotFound
	}
	return rec[0], rec[1], nil
}

func (m *MemoryUsers) Insert(_ context.Context, id, username, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[username]; ok {
		return internaltypes.Newf(internaltypes.KindConflict, "username %q already exists", username)
	}
	m.byName[username] = [2]string{id, hash}
	return nil
}
