// Package auth tests for authentication.
package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	config := AuthConfig{
		SecurityEnabled:   true,
		JWTSecret:         []byte("test-secret-at-least-32-bytes!!"),
		MinPasswordLength: 8,
		MaxFailedLogins:   5,
		LockoutDuration:   15 * time.Minute,
		BcryptCost:        4, // Low cost for faster tests
	}
	auth, err := NewAuthenticator(config)
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	return auth
}

func TestNewAuthenticator(t *testing.T) {
	tests := []struct {
		name    string
		config  AuthConfig
		wantErr bool
	}{
		{
			name: "valid config with secret",
			config: AuthConfig{
				SecurityEnabled: true,
				JWTSecret:       []byte("test-secret-at-least-32-bytes!!"),
			},
			wantErr: false,
		},
		{
			name: "security enabled without secret",
			config: AuthConfig{
				SecurityEnabled: true,
				JWTSecret:       nil,
			},
			wantErr: true,
		},
		{
			name: "security disabled without secret OK",
			config: AuthConfig{
				SecurityEnabled: false,
				JWTSecret:       nil,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAuthenticator(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAuthenticator() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateUser(t *testing.T) {
	auth := newTestAuthenticator(t)

	user, err := auth.CreateUser("testuser", "password123", []Role{RoleEditor})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if user.Username != "testuser" {
		t.Errorf("expected username 'testuser', got %q", user.Username)
	}
	if !user.HasRole(RoleEditor) {
		t.Error("expected user to have editor role")
	}
	if user.PasswordHash != "" {
		t.Error("returned user must not carry the password hash")
	}

	// Try to create duplicate
	_, err = auth.CreateUser("testuser", "password456", nil)
	if err != ErrUserExists {
		t.Errorf("expected ErrUserExists, got %v", err)
	}

	// Password too short
	_, err = auth.CreateUser("shortpass", "short", nil)
	if err == nil || !strings.Contains(err.Error(), "minimum") {
		t.Errorf("expected password length error, got %v", err)
	}

	// Unknown role
	_, err = auth.CreateUser("badrole", "password123", []Role{"superuser"})
	if err == nil {
		t.Error("expected invalid role error")
	}

	// Default role when none specified
	user2, err := auth.CreateUser("defaultrole", "password123", nil)
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if !user2.HasRole(RoleViewer) {
		t.Error("expected default viewer role")
	}
}

func TestAuthenticate(t *testing.T) {
	auth := newTestAuthenticator(t)

	if _, err := auth.CreateUser("testuser", "password123", []Role{RoleAdmin}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	token, user, err := auth.Authenticate("testuser", "password123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if token.AccessToken == "" {
		t.Error("expected non-empty access token")
	}
	if token.TokenType != "Bearer" {
		t.Errorf("expected token type 'Bearer', got %q", token.TokenType)
	}
	if token.ExpiresIn != 0 {
		t.Errorf("expected no expiry by default, got %d", token.ExpiresIn)
	}
	if user.Username != "testuser" {
		t.Errorf("expected username 'testuser', got %q", user.Username)
	}
	if user.LastLogin.IsZero() {
		t.Error("expected last login to be recorded")
	}

	// Wrong password
	_, _, err = auth.Authenticate("testuser", "wrongpassword")
	if err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	// Non-existent user
	_, _, err = auth.Authenticate("nonexistent", "password123")
	if err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateWithExpiry(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{
		SecurityEnabled: true,
		JWTSecret:       []byte("test-secret-at-least-32-bytes!!"),
		TokenExpiry:     time.Hour,
		BcryptCost:      4,
	})
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	if _, err := auth.CreateUser("testuser", "password123", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	token, _, err := auth.Authenticate("testuser", "password123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if token.ExpiresIn != 3600 {
		t.Errorf("expected expires_in 3600, got %d", token.ExpiresIn)
	}
}

func TestAccountLockout(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{
		SecurityEnabled: true,
		JWTSecret:       []byte("test-secret-at-least-32-bytes!!"),
		MaxFailedLogins: 3,
		LockoutDuration: time.Minute,
		BcryptCost:      4,
	})
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	if _, err := auth.CreateUser("locktest", "password123", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		_, _, err = auth.Authenticate("locktest", "wrongpassword")
		if err != ErrInvalidCredentials {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// Even the correct password is rejected while locked
	_, _, err = auth.Authenticate("locktest", "password123")
	if err != ErrAccountLocked {
		t.Errorf("expected ErrAccountLocked, got %v", err)
	}

	// The lock lapses after LockoutDuration
	start := time.Now()
	auth.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, _, err := auth.Authenticate("locktest", "password123"); err != nil {
		t.Errorf("expected lock to lapse, got %v", err)
	}
}

func TestUnlockUser(t *testing.T) {
	auth := newTestAuthenticator(t)
	if _, err := auth.CreateUser("locktest", "password123", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		_, _, _ = auth.Authenticate("locktest", "wrongpassword")
	}
	if _, _, err := auth.Authenticate("locktest", "password123"); err != ErrAccountLocked {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	if _, err := auth.UpdateUser("locktest", UserUpdate{Unlock: true}); err != nil {
		t.Fatalf("UpdateUser(unlock) error = %v", err)
	}
	if _, _, err := auth.Authenticate("locktest", "password123"); err != nil {
		t.Errorf("expected successful auth after unlock, got %v", err)
	}
	if _, err := auth.UpdateUser("ghost", UserUpdate{Unlock: true}); err != ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDisabledUser(t *testing.T) {
	auth := newTestAuthenticator(t)

	if _, err := auth.CreateUser("disabletest", "password123", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	tokenResp, _, err := auth.Authenticate("disabletest", "password123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	disabled, enabled := true, false
	u, err := auth.UpdateUser("disabletest", UserUpdate{Disabled: &disabled})
	if err != nil {
		t.Fatalf("UpdateUser(disable) error = %v", err)
	}
	if !u.Disabled {
		t.Error("returned user should be disabled")
	}
	if _, _, err := auth.Authenticate("disabletest", "password123"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for disabled user, got %v", err)
	}
	if _, err := auth.ValidateToken(tokenResp.AccessToken); err != ErrInvalidToken {
		t.Errorf("token of a disabled user should be rejected, got %v", err)
	}

	if _, err := auth.UpdateUser("disabletest", UserUpdate{Disabled: &enabled}); err != nil {
		t.Fatalf("UpdateUser(enable) error = %v", err)
	}
	if _, _, err := auth.Authenticate("disabletest", "password123"); err != nil {
		t.Errorf("expected successful auth after enable, got %v", err)
	}
	if _, err := auth.ValidateToken(tokenResp.AccessToken); err != nil {
		t.Errorf("token should work again after enable, got %v", err)
	}
}

func TestUpdateUserRoles(t *testing.T) {
	auth := newTestAuthenticator(t)
	if _, err := auth.CreateUser("rolly", "password123", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	tokenResp, _, err := auth.Authenticate("rolly", "password123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if _, err := auth.UpdateUser("rolly", UserUpdate{Roles: []Role{"root"}}); err == nil {
		t.Error("expected an error for an invalid role")
	}
	if _, err := auth.UpdateUser("rolly", UserUpdate{Roles: []Role{RoleEditor}}); err != nil {
		t.Fatalf("UpdateUser(roles) error = %v", err)
	}

	claims, err := auth.ValidateToken(tokenResp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if !claims.HasPermission(PermWrite) {
		t.Errorf("role change should apply to existing tokens, got roles %v", claims.Roles)
	}
}

func TestLastAdminIsProtected(t *testing.T) {
	auth := newTestAuthenticator(t)
	if _, err := auth.CreateUser("root", "password123", []Role{RoleAdmin}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	disabled := true
	if _, err := auth.UpdateUser("root", UserUpdate{Disabled: &disabled}); err != ErrLastAdmin {
		t.Errorf("disable last admin: expected ErrLastAdmin, got %v", err)
	}
	if _, err := auth.UpdateUser("root", UserUpdate{Roles: []Role{RoleViewer}}); err != ErrLastAdmin {
		t.Errorf("demote last admin: expected ErrLastAdmin, got %v", err)
	}
	if err := auth.DeleteUser("root"); err != ErrLastAdmin {
		t.Errorf("delete last admin: expected ErrLastAdmin, got %v", err)
	}

	if _, err := auth.CreateUser("second", "password123", []Role{RoleAdmin}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := auth.DeleteUser("root"); err != nil {
		t.Errorf("deleting one of two admins should work, got %v", err)
	}
	if _, err := auth.UpdateUser("second", UserUpdate{Roles: []Role{RoleEditor}}); err != ErrLastAdmin {
		t.Errorf("expected ErrLastAdmin for the remaining admin, got %v", err)
	}
}

func TestValidateToken(t *testing.T) {
	auth := newTestAuthenticator(t)

	if _, err := auth.CreateUser("tokentest", "password123", []Role{RoleAdmin, RoleEditor}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	tokenResp, _, err := auth.Authenticate("tokentest", "password123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	claims, err := auth.ValidateToken(tokenResp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Username != "tokentest" {
		t.Errorf("expected username 'tokentest', got %q", claims.Username)
	}
	if len(claims.Roles) != 2 {
		t.Errorf("expected 2 roles, got %d", len(claims.Roles))
	}

	claims2, err := auth.ValidateToken("Bearer " + tokenResp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken() with Bearer prefix error = %v", err)
	}
	if claims2.Username != "tokentest" {
		t.Error("expected same claims with Bearer prefix")
	}

	if _, err := auth.ValidateToken("invalid.token.here"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := auth.ValidateToken("not-a-jwt"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := auth.ValidateToken(""); err != ErrNoCredentials {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}

	// A token signed with another secret is rejected
	other, _ := NewAuthenticator(AuthConfig{SecurityEnabled: true, JWTSecret: []byte("another-secret-of-32-bytes-long!"), BcryptCost: 4})
	if _, err := other.ValidateToken(tokenResp.AccessToken); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for foreign token, got %v", err)
	}
}

func TestTokenExpiration(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{
		SecurityEnabled: true,
		JWTSecret:       []byte("test-secret-at-least-32-bytes!!"),
		TokenExpiry:     2 * time.Second,
		BcryptCost:      4,
	})
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	if _, err := auth.CreateUser("expiretest", "password123", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	tokenResp, _, err := auth.Authenticate("expiretest", "password123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	claims, err := auth.ValidateToken(tokenResp.AccessToken)
	if err != nil {
		t.Fatalf("expected valid token initially, got %v", err)
	}
	if claims.Exp == 0 {
		t.Fatal("expected exp claim to be set")
	}

	start := time.Now()
	auth.now = func() time.Time { return start.Add(time.Minute) }
	if _, err := auth.ValidateToken(tokenResp.AccessToken); err != ErrSessionExpired {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}

func TestSecurityDisabled(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{SecurityEnabled: false})
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}

	claims, err := auth.ValidateToken("any-token")
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Sub != "anonymous" {
		t.Errorf("expected sub 'anonymous', got %q", claims.Sub)
	}
	if !claims.HasPermission(PermWrite) {
		t.Error("expected admin permissions when security disabled")
	}

	claims, err = auth.Authorize("")
	if err != nil || claims.Sub != "anonymous" {
		t.Errorf("expected anonymous claims without a header, got %v, %v", claims, err)
	}
}

func TestAuthorize(t *testing.T) {
	auth := newTestAuthenticator(t)
	if _, err := auth.CreateUser("alice", "password123", []Role{RoleViewer}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	claims, err := auth.Authorize(BasicHeader("alice", "password123"))
	if err != nil {
		t.Fatalf("Authorize(basic) error = %v", err)
	}
	if claims.Username != "alice" || !claims.HasPermission(PermRead) || claims.HasPermission(PermWrite) {
		t.Errorf("unexpected claims %+v", claims)
	}

	tokenResp, _, err := auth.Authenticate("alice", "password123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	claims, err = auth.Authorize(BearerHeader(tokenResp.AccessToken))
	if err != nil {
		t.Fatalf("Authorize(bearer) error = %v", err)
	}
	if claims.Username != "alice" {
		t.Errorf("expected alice, got %q", claims.Username)
	}

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"no header", "", ErrNoCredentials},
		{"wrong password", BasicHeader("alice", "nope-nope"), ErrInvalidCredentials},
		{"bad token", BearerHeader("a.b.c"), ErrInvalidToken},
		{"unknown scheme", "Digest abc", ErrUnsupportedScheme},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := auth.Authorize(tt.header); !errors.Is(err, tt.want) {
				t.Errorf("Authorize(%q) error = %v, want %v", tt.header, err, tt.want)
			}
		})
	}
}

func TestChangePassword(t *testing.T) {
	auth := newTestAuthenticator(t)
	if _, err := auth.CreateUser("pwtest", "oldpassword", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	if err := auth.ChangePassword("pwtest", "wrongold", "newpassword"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := auth.ChangePassword("pwtest", "oldpassword", "short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := auth.ChangePassword("pwtest", "oldpassword", "newpassword"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, _, err := auth.Authenticate("pwtest", "oldpassword"); err != ErrInvalidCredentials {
		t.Error("old password should no longer work")
	}
	if _, _, err := auth.Authenticate("pwtest", "newpassword"); err != nil {
		t.Errorf("new password should work, got %v", err)
	}
	if err := auth.ChangePassword("ghost", "a", "b"); err != ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserDirectory(t *testing.T) {
	auth := newTestAuthenticator(t)
	for _, name := range []string{"carol", "alice", "bob"} {
		if _, err := auth.CreateUser(name, "password123", nil); err != nil {
			t.Fatalf("CreateUser(%s) error = %v", name, err)
		}
	}
	if auth.UserCount() != 3 {
		t.Errorf("expected 3 users, got %d", auth.UserCount())
	}

	users := auth.ListUsers()
	if len(users) != 3 || users[0].Username != "alice" || users[2].Username != "carol" {
		t.Errorf("expected users sorted by name, got %v", users)
	}

	u, err := auth.GetUser("bob")
	if err != nil || u.Username != "bob" {
		t.Errorf("GetUser(bob) = %v, %v", u, err)
	}

	tokenResp, _, err := auth.Authenticate("bob", "password123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if err := auth.DeleteUser("bob"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if _, err := auth.ValidateToken(tokenResp.AccessToken); err != ErrInvalidToken {
		t.Errorf("token of a deleted user should be rejected, got %v", err)
	}
	if _, err := auth.GetUser("bob"); err != ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if err := auth.DeleteUser("bob"); err != ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound on second delete, got %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role  Role
		perm  Permission
		allow bool
	}{
		{RoleAdmin, PermUserManage, true},
		{RoleAdmin, PermWrite, true},
		{RoleEditor, PermWrite, true},
		{RoleEditor, PermAdmin, false},
		{RoleViewer, PermRead, true},
		{RoleViewer, PermWrite, false},
		{RoleNone, PermRead, false},
	}
	for _, tt := range tests {
		user := &User{Roles: []Role{tt.role}}
		if got := user.HasPermission(tt.perm); got != tt.allow {
			t.Errorf("%s.HasPermission(%s) = %v, want %v", tt.role, tt.perm, got, tt.allow)
		}
	}
}

func TestParseRoles(t *testing.T) {
	roles, err := ParseRoles([]string{"admin", " Editor", "viewer", "none"})
	if err != nil {
		t.Fatalf("ParseRoles() error = %v", err)
	}
	want := []Role{RoleAdmin, RoleEditor, RoleViewer, RoleNone}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("roles[%d] = %q, want %q", i, roles[i], want[i])
		}
	}
	if _, err := ParseRoles([]string{"viewer", "root"}); err == nil {
		t.Error("expected an error for an unknown role")
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("abc", "abc") {
		t.Error("equal strings should compare equal")
	}
	if SecureCompare("abc", "abd") || SecureCompare("abc", "abcd") {
		t.Error("different strings should not compare equal")
	}
}
