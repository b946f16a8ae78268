package local

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"spendwise/internal/baas"
	"spendwise/internal/core"
)

const (
	minPasswordLength = 6
	recoveryTTL       = time.Hour
)

// authService implements baas.Auth over the auth_* tables.
type authService struct {
	b          *Backend
	secret     []byte
	ttl        time.Duration
	bcryptCost int
	onRecovery func(email, link string)

	mu        sync.Mutex
	listeners map[int]func(baas.AuthEvent, *baas.Session)
	nextID    int
}

var _ baas.Auth = (*authService)(nil)

func newAuthService(b *Backend, opts Options) *authService {
	return &authService{
		b:          b,
		secret:     []byte(opts.JWTSecret),
		ttl:        opts.SessionTTL,
		bcryptCost: opts.BcryptCost,
		onRecovery: opts.OnRecovery,
		listeners:  make(map[int]func(baas.AuthEvent, *baas.Session)),
	}
}

func authError(status int, code, message string) error {
	var sentinel error
	switch status {
	case http.StatusUnauthorized:
		sentinel = baas.ErrUnauthorized
	case http.StatusBadRequest:
		sentinel = baas.ErrInvalidRequest
	}
	if code == "invalid_credentials" {
		sentinel = baas.ErrInvalidCredentials
	}
	return &baas.Error{Status: status, Code: code, Message: message, Err: sentinel}
}

func (a *authService) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*baas.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") || strings.HasPrefix(email, "@") || strings.HasSuffix(email, "@") {
		return nil, authError(http.StatusBadRequest, "validation_failed", "Unable to validate email address: invalid format")
	}
	if len(password) < minPasswordLength {
		return nil, authError(http.StatusUnprocessableEntity, "weak_password",
			fmt.Sprintf("Password should be at least %d characters.", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	now := a.b.now()
	user := baas.User{ID: uuid.NewString(), Email: email, Metadata: metadata, CreatedAt: now}
	fullName, _ := metadata["full_name"].(string)

	err = a.b.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM auth_users WHERE email = ?`, email).Scan(&exists); err != nil {
			return fmt.Errorf("check existing user: %w", err)
		}
		if exists > 0 {
			return authError(http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO auth_users (id, email, password_hash, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
			user.ID, email, string(hash), string(meta), formatTime(now)); err != nil {
			return fmt.Errorf("insert auth user: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (id, email, full_name, role, created_at) VALUES (?, ?, ?, ?, ?)`,
			user.ID, email, strings.TrimSpace(fullName), string(core.RoleUser), formatTime(now)); err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.b.log.InfoContext(ctx, "User registered", "user_id", user.ID)
	return a.startSession(ctx, user)
}

func (a *authService) SignIn(ctx context.Context, email, password string) (*baas.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var (
		user    baas.User
		hash    string
		meta    string
		created string
	)
	err := a.b.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, metadata, created_at FROM auth_users WHERE email = ?`, email).
		Scan(&user.ID, &user.Email, &hash, &meta, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authError(http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, authError(http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
	}
	user.CreatedAt = parseTime(created)
	_ = json.Unmarshal([]byte(meta), &user.Metadata)

	return a.startSession(ctx, user)
}

func (a *authService) startSession(ctx context.Context, user baas.User) (*baas.Session, error) {
	now := a.b.now()
	sessionID := uuid.NewString()
	token, err := generateToken(a.secret, user.ID, user.Email, sessionID, now, a.ttl)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	expires := now.Add(a.ttl)
	if _, err := a.b.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sessionID, user.ID, formatTime(now), formatTime(expires)); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	session := &baas.Session{AccessToken: token, ExpiresAt: expires, User: user}
	a.emit(baas.EventSignedIn, session)
	return session, nil
}

func (a *authService) SignOut(ctx context.Context, accessToken string) error {
	claims, err := parseToken(a.secret, accessToken, a.b.now)
	if err != nil {
		// Signing out with a dead token is a no-op, as it is remotely.
		return nil
	}
	if _, err := a.b.db.ExecContext(ctx,
		`UPDATE auth_sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(a.b.now()), claims.ID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	a.emit(baas.EventSignedOut, &baas.Session{User: baas.User{ID: claims.Subject, Email: claims.Email}})
	return nil
}

// verify checks the signature, expiry and that the session is still live.
func (a *authService) verify(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := parseToken(a.secret, accessToken, a.b.now)
	if err != nil {
		return nil, authError(http.StatusUnauthorized, "bad_jwt", "invalid JWT: "+err.Error())
	}
	var revoked sql.NullString
	var expires string
	err = a.b.db.QueryRowContext(ctx,
		`SELECT revoked_at, expires_at FROM auth_sessions WHERE id = ? AND user_id = ?`, claims.ID, claims.Subject).
		Scan(&revoked, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authError(http.StatusUnauthorized, "session_not_found", "Session from session_id claim in JWT does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if revoked.Valid || !a.b.now().Before(parseTime(expires)) {
		return nil, authError(http.StatusUnauthorized, "session_expired", "Session expired")
	}
	return claims, nil
}

func (a *authService) GetUser(ctx context.Context, accessToken string) (*baas.User, error) {
	claims, err := a.verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return a.loadUser(ctx, claims.Subject)
}

func (a *authService) loadUser(ctx context.Context, id string) (*baas.User, error) {
	var (
		user    baas.User
		meta    string
		created string
	)
	err := a.b.db.QueryRowContext(ctx,
		`SELECT id, email, metadata, created_at FROM auth_users WHERE id = ?`, id).
		Scan(&user.ID, &user.Email, &meta, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authError(http.StatusUnauthorized, "user_not_found", "User from sub claim in JWT does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	user.CreatedAt = parseTime(created)
	_ = json.Unmarshal([]byte(meta), &user.Metadata)
	return &user, nil
}

func (a *authService) UpdateUser(ctx context.Context, accessToken string, metadata map[string]any) (*baas.User, error) {
	claims, err := a.verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	user, err := a.loadUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if user.Metadata == nil {
		user.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		user.Metadata[k] = v
	}
	meta, err := json.Marshal(user.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if _, err := a.b.db.ExecContext(ctx, `UPDATE auth_users SET metadata = ? WHERE id = ?`, string(meta), user.ID); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	a.emit(baas.EventUserUpdated, &baas.Session{AccessToken: accessToken, User: *user})
	return user, nil
}

// ResetPasswordForEmail records a recovery token and hands the link to the
// configured hook. Unknown addresses succeed silently.
func (a *authService) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	var userID string
	err := a.b.db.QueryRowContext(ctx, `SELECT id FROM auth_users WHERE email = ?`, email).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate recovery token: %w", err)
	}
	token := hex.EncodeToString(buf)
	now := a.b.now()
	if _, err := a.b.db.ExecContext(ctx,
		`INSERT INTO auth_recovery (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, formatTime(now), formatTime(now.Add(recoveryTTL))); err != nil {
		return fmt.Errorf("insert recovery token: %w", err)
	}

	link := recoveryLink(redirectTo, token)
	if a.onRecovery != nil {
		a.onRecovery(email, link)
	} else {
		a.b.log.InfoContext(ctx, "Password recovery requested", "user_id", userID, "link", link)
	}
	return nil
}

func recoveryLink(redirectTo, token string) string {
	u, err := url.Parse(redirectTo)
	if err != nil || redirectTo == "" {
		return "?type=recovery&token=" + token
	}
	q := u.Query()
	q.Set("type", "recovery")
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (a *authService) OnAuthStateChange(fn func(baas.AuthEvent, *baas.Session)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *authService) emit(ev baas.AuthEvent, s *baas.Session) {
	a.mu.Lock()
	fns := make([]func(baas.AuthEvent, *baas.Session), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(ev, s)
	}
	a.b.log.Debug("Auth state change", "event", string(ev), "user_id", s.User.ID)
}
