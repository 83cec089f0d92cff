// Package auth provides authentication and authorization for the graph
// server and the credential headers used by the driver.
//
// Architecture:
//   - Users with bcrypt password hashes and one or more roles
//   - JWT bearer tokens (HS256) issued on login
//   - Basic and Bearer Authorization headers, parsed on the server and
//     built by the driver from the same helpers
//   - Role-based access control: admin, editor, viewer, none
//   - Account lockout after repeated failed logins
//
// Example Usage:
//
//	cfg := auth.DefaultAuthConfig()
//	cfg.JWTSecret = []byte("your-secret-key-min-32-chars")
//
//	authenticator, err := auth.NewAuthenticator(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	_, _ = authenticator.CreateUser("admin", "SecurePass123!", []auth.Role{auth.RoleAdmin})
//
//	// Resolve an Authorization header to claims
//	claims, err := authenticator.Authorize(auth.BasicHeader("admin", "SecurePass123!"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(claims.HasPermission(auth.PermWrite)) // true
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Errors for authentication operations.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked due to failed login attempts")
	ErrPasswordTooShort   = errors.New("password does not meet minimum length requirement")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrSessionExpired     = errors.New("session expired")
	ErrNoCredentials      = errors.New("no credentials provided")
	ErrMissingSecret      = errors.New("JWT secret not configured")
	ErrUnsupportedScheme  = errors.New("unsupported authorization scheme")
	ErrLastAdmin          = errors.New("the last enabled admin cannot be removed, demoted or disabled")
	ErrInvalidRole        = errors.New("invalid role")
)

// Role represents a user role with associated permissions.
type Role string

// Predefined roles.
const (
	RoleAdmin  Role = "admin"  // Full access including user management
	RoleEditor Role = "editor" // Read/write data
	RoleViewer Role = "viewer" // Read only (default)
	RoleNone   Role = "none"   // No access
)

// Permission represents an action that can be performed.
type Permission string

const (
	PermRead       Permission = "read"
	PermWrite      Permission = "write"
	PermAdmin      Permission = "admin"
	PermUserManage Permission = "user_manage"
)

// RolePermissions maps roles to their allowed permissions.
var RolePermissions = map[Role][]Permission{
	RoleAdmin:  {PermRead, PermWrite, PermAdmin, PermUserManage},
	RoleEditor: {PermRead, PermWrite},
	RoleViewer: {PermRead},
	RoleNone:   {},
}

// User represents an account. PasswordHash never leaves the package; the
// Authenticator hands out copies without it.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Roles        []Role    `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastLogin    time.Time `json:"last_login,omitempty"`
	FailedLogins int       `json:"-"`
	LockedUntil  time.Time `json:"-"`
	Disabled     bool      `json:"disabled,omitempty"`
}

// HasRole checks if the user has a specific role.
func (u *User) HasRole(role Role) bool {
	return slices.Contains(u.Roles, role)
}

// HasPermission checks if any of the user's roles grants perm.
func (u *User) HasPermission(perm Permission) bool {
	roles := make([]string, len(u.Roles))
	for i, r := range u.Roles {
		roles[i] = string(r)
	}
	return rolesGrant(roles, perm)
}

// JWTClaims represents the claims in a JWT token.
type JWTClaims struct {
	Sub      string   `json:"sub"`                // Subject (user ID)
	Username string   `json:"username,omitempty"` // Username
	Roles    []string `json:"roles"`              // User roles
	Iat      int64    `json:"iat"`                // Issued at (Unix timestamp)
	Exp      int64    `json:"exp,omitempty"`      // Expiration (Unix timestamp, 0 = never)
}

// HasPermission checks if any role in the claims grants perm.
func (c *JWTClaims) HasPermission(perm Permission) bool {
	return rolesGrant(c.Roles, perm)
}

func rolesGrant(roles []string, perm Permission) bool {
	for _, r := range roles {
		if slices.Contains(RolePermissions[Role(r)], perm) {
			return true
		}
	}
	return false
}

// TokenResponse follows the OAuth 2.0 RFC 6749 token response format.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`           // Always "Bearer"
	ExpiresIn   int64  `json:"expires_in,omitempty"` // Seconds until expiration (omitted if never expires)
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Password policy
	MinPasswordLength int
	BcryptCost        int

	// Token settings
	JWTSecret   []byte
	TokenExpiry time.Duration // 0 = never expire

	// Lockout settings
	MaxFailedLogins int
	LockoutDuration time.Duration

	// SecurityEnabled=false accepts every request as an anonymous admin.
	SecurityEnabled bool
}

// DefaultAuthConfig returns default authentication configuration.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		MinPasswordLength: 8,
		BcryptCost:        bcrypt.DefaultCost,
		TokenExpiry:       0,
		MaxFailedLogins:   5,
		LockoutDuration:   15 * time.Minute,
		SecurityEnabled:   true,
	}
}

// Authenticator manages users and authentication.
//
// Thread Safety:
//
//	All methods are thread-safe for concurrent use.
type Authenticator struct {
	mu     sync.RWMutex
	users  map[string]*User // keyed by username
	config AuthConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewAuthenticator creates an authenticator. Zero config fields take their
// defaults; an enabled authenticator needs a JWT secret.
func NewAuthenticator(config AuthConfig) (*Authenticator, error) {
	if config.SecurityEnabled && len(config.JWTSecret) == 0 {
		return nil, ErrMissingSecret
	}

	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.MinPasswordLength == 0 {
		config.MinPasswordLength = 8
	}
	if config.MaxFailedLogins == 0 {
		config.MaxFailedLogins = 5
	}
	if config.LockoutDuration == 0 {
		config.LockoutDuration = 15 * time.Minute
	}

	return &Authenticator{
		users:  make(map[string]*User),
		config: config,
		logger: zap.NewNop(),
		now:    time.Now,
	}, nil
}

// SetLogger sets the logger that records authentication events.
func (a *Authenticator) SetLogger(logger *zap.Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger = logger
}

// CreateUser creates a new user account with the given credentials and roles.
// If no roles are specified, the user is a viewer.
func (a *Authenticator) CreateUser(username, password string, roles []Role) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.users[username]; exists {
		return nil, ErrUserExists
	}
	if len(password) < a.config.MinPasswordLength {
		return nil, fmt.Errorf("%w: minimum %d characters required", ErrPasswordTooShort, a.config.MinPasswordLength)
	}
	for _, r := range roles {
		if !ValidRole(r) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRole, r)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if len(roles) == 0 {
		roles = []Role{RoleViewer}
	}

	now := a.now()
	user := &User{
		ID:           generateID(),
		Username:     username,
		PasswordHash: string(hash),
		Roles:        slices.Clone(roles),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	a.users[username] = user

	a.logger.Info("user created", zap.String("username", username), zap.Any("roles", roles))
	return copyUserSafe(user), nil
}

// Authenticate verifies user credentials and returns a bearer token.
//
// Unknown users and wrong passwords both fail with ErrInvalidCredentials.
// After MaxFailedLogins consecutive failures the account is locked for
// LockoutDuration.
func (a *Authenticator) Authenticate(username, password string) (*TokenResponse, *User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, exists := a.users[username]
	if !exists {
		a.logger.Debug("login failed", zap.String("username", username), zap.String("reason", "unknown user"))
		return nil, nil, ErrInvalidCredentials
	}

	now := a.now()
	if !user.LockedUntil.IsZero() && now.Before(user.LockedUntil) {
		a.logger.Warn("login rejected", zap.String("username", username), zap.String("reason", "account locked"))
		return nil, nil, ErrAccountLocked
	}
	if user.Disabled {
		return nil, nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		user.FailedLogins++
		if user.FailedLogins >= a.config.MaxFailedLogins {
			user.LockedUntil = now.Add(a.config.LockoutDuration)
		}
		user.UpdatedAt = now
		a.logger.Debug("login failed",
			zap.String("username", username),
			zap.Int("attempt", user.FailedLogins),
			zap.Int("max", a.config.MaxFailedLogins))
		return nil, nil, ErrInvalidCredentials
	}

	user.FailedLogins = 0
	user.LockedUntil = time.Time{}
	user.LastLogin = now
	user.UpdatedAt = now

	token, err := a.generateJWT(user)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate token: %w", err)
	}
	response := &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
	}
	if a.config.TokenExpiry > 0 {
		response.ExpiresIn = int64(a.config.TokenExpiry.Seconds())
	}
	return response, copyUserSafe(user), nil
}

// ValidateToken validates a JWT token and returns the claims. A "Bearer "
// prefix is stripped. With security disabled every token is accepted as an
// anonymous admin.
func (a *Authenticator) ValidateToken(token string) (*JWTClaims, error) {
	if !a.config.SecurityEnabled {
		return anonymousClaims(), nil
	}
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, ErrNoCredentials
	}
	claims, err := a.verifyJWT(token)
	if err != nil {
		return nil, err
	}

	// Tokens follow the account: deleted or disabled users lose access and
	// role changes apply at once.
	a.mu.RLock()
	defer a.mu.RUnlock()
	user, exists := a.users[claims.Username]
	if !exists || user.ID != claims.Sub || user.Disabled {
		return nil, ErrInvalidToken
	}
	current := claimsFor(user, claims.Iat)
	current.Exp = claims.Exp
	return current, nil
}

// Authorize resolves an Authorization header to claims. Basic credentials
// are checked against the user table; Bearer tokens must be tokens issued
// by Authenticate.
func (a *Authenticator) Authorize(header string) (*JWTClaims, error) {
	if !a.config.SecurityEnabled {
		return anonymousClaims(), nil
	}
	creds, err := ParseAuthorization(header)
	if err != nil {
		return nil, err
	}
	switch creds.Scheme {
	case SchemeBearer:
		return a.ValidateToken(creds.Secret)
	case SchemeBasic:
		_, user, err := a.Authenticate(creds.Principal, creds.Secret)
		if err != nil {
			return nil, err
		}
		return claimsFor(user, 0), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, creds.Scheme)
}

// GetUser returns user info by username without sensitive data.
func (a *Authenticator) GetUser(username string) (*User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	user, exists := a.users[username]
	if !exists {
		return nil, ErrUserNotFound
	}
	return copyUserSafe(user), nil
}

// ListUsers returns all users sorted by username, without sensitive data.
func (a *Authenticator) ListUsers() []*User {
	a.mu.RLock()
	defer a.mu.RUnlock()

	users := make([]*User, 0, len(a.users))
	for _, u := range a.users {
		users = append(users, copyUserSafe(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// UserCount returns the number of registered users.
func (a *Authenticator) UserCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}

// ChangePassword replaces a user's password. The current password must
// match; tokens issued earlier stay valid until they expire.
func (a *Authenticator) ChangePassword(username, current, replacement string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, exists := a.users[username]
	if !exists {
		return ErrUserNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	if len(replacement) < a.config.MinPasswordLength {
		return fmt.Errorf("%w: minimum %d characters required", ErrPasswordTooShort, a.config.MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(replacement), a.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.UpdatedAt = a.now()
	a.logger.Info("password changed", zap.String("username", username))
	return nil
}

// UserUpdate lists the changes UpdateUser applies. Empty Roles and a nil
// Disabled leave those fields as they are.
type UserUpdate struct {
	Roles    []Role `json:"roles,omitempty"`
	Disabled *bool  `json:"disabled,omitempty"`
	// Unlock clears a lockout from failed logins.
	Unlock bool `json:"unlock,omitempty"`
}

// UpdateUser changes a user's roles, disabled flag or lockout. Enabling an
// account also clears its lockout. The last enabled admin can be neither
// disabled nor demoted.
func (a *Authenticator) UpdateUser(username string, update UserUpdate) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, exists := a.users[username]
	if !exists {
		return nil, ErrUserNotFound
	}
	for _, r := range update.Roles {
		if !ValidRole(r) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRole, r)
		}
	}

	next := *user
	if len(update.Roles) > 0 {
		next.Roles = slices.Clone(update.Roles)
	}
	if update.Disabled != nil {
		next.Disabled = *update.Disabled
	}
	if isActiveAdmin(user) && !isActiveAdmin(&next) && a.activeAdminsLocked() == 1 {
		return nil, ErrLastAdmin
	}

	user.Roles = next.Roles
	user.Disabled = next.Disabled
	if update.Unlock || (update.Disabled != nil && !*update.Disabled) {
		user.FailedLogins = 0
		user.LockedUntil = time.Time{}
	}
	user.UpdatedAt = a.now()

	a.logger.Info("user updated",
		zap.String("username", username),
		zap.Any("roles", user.Roles),
		zap.Bool("disabled", user.Disabled))
	return copyUserSafe(user), nil
}

// DeleteUser removes a user. The last enabled admin cannot be removed.
func (a *Authenticator) DeleteUser(username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, exists := a.users[username]
	if !exists {
		return ErrUserNotFound
	}
	if isActiveAdmin(user) && a.activeAdminsLocked() == 1 {
		return ErrLastAdmin
	}
	delete(a.users, username)
	a.logger.Info("user deleted", zap.String("username", username))
	return nil
}

func isActiveAdmin(u *User) bool {
	return !u.Disabled && u.HasRole(RoleAdmin)
}

// activeAdminsLocked counts enabled admins. Caller must hold the lock.
func (a *Authenticator) activeAdminsLocked() int {
	n := 0
	for _, u := range a.users {
		if isActiveAdmin(u) {
			n++
		}
	}
	return n
}

// IsSecurityEnabled returns whether security is enabled.
func (a *Authenticator) IsSecurityEnabled() bool {
	return a.config.SecurityEnabled
}

// =============================================================================
// JWT Generation and Validation
// =============================================================================

func claimsFor(user *User, now int64) *JWTClaims {
	roles := make([]string, len(user.Roles))
	for i, r := range user.Roles {
		roles[i] = string(r)
	}
	return &JWTClaims{
		Sub:      user.ID,
		Username: user.Username,
		Roles:    roles,
		Iat:      now,
	}
}

func anonymousClaims() *JWTClaims {
	return &JWTClaims{Sub: "anonymous", Roles: []string{string(RoleAdmin)}}
}

// generateJWT creates an HS256 token for the user.
func (a *Authenticator) generateJWT(user *User) (string, error) {
	if len(a.config.JWTSecret) == 0 {
		return "", ErrMissingSecret
	}

	now := a.now().Unix()
	claims := claimsFor(user, now)
	if a.config.TokenExpiry > 0 {
		claims.Exp = now + int64(a.config.TokenExpiry.Seconds())
	}

	headerJSON, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	message := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)
	return message + "." + a.sign(message), nil
}

func (a *Authenticator) sign(message string) string {
	mac := hmac.New(sha256.New, a.config.JWTSecret)
	mac.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verifyJWT validates a JWT token and returns the claims.
func (a *Authenticator) verifyJWT(token string) (*JWTClaims, error) {
	if len(a.config.JWTSecret) == 0 {
		return nil, ErrMissingSecret
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	if !SecureCompare(parts[2], a.sign(parts[0]+"."+parts[1])) {
		return nil, ErrInvalidToken
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims JWTClaims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	// 0 = never expires
	if claims.Exp > 0 && a.now().Unix() > claims.Exp {
		return nil, ErrSessionExpired
	}
	return &claims, nil
}

func copyUserSafe(u *User) *User {
	return &User{
		ID:        u.ID,
		Username:  u.Username,
		Roles:     slices.Clone(u.Roles),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		LastLogin: u.LastLogin,
		Disabled:  u.Disabled,
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// SecureCompare performs a constant-time string comparison.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ValidRole checks if a role is valid.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer, RoleNone:
		return true
	default:
		return false
	}
}

// ParseRoles converts role names, as sent by clients, to Roles.
func ParseRoles(names []string) ([]Role, error) {
	roles := make([]Role, len(names))
	for i, name := range names {
		roles[i] = Role(strings.ToLower(strings.TrimSpace(name)))
		if !ValidRole(roles[i]) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRole, name)
		}
	}
	return roles, nil
}
