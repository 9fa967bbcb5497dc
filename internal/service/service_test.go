package service

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/naperu/painel/internal/domain"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims *JWTClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestValidateToken(t *testing.T) {
	auth := &AuthService{}
	userID := uuid.New()
	clientID := uuid.New()
	token := signToken(t, &JWTClaims{
		UserID:   userID,
		ClientID: &clientID,
		Username: "maria",
		Role:     domain.RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	claims, err := auth.ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != userID || claims.Username != "maria" {
		t.Errorf("claims = %+v, want the signed identity back", claims)
	}
	if claims.IsAdmin() {
		t.Errorf("USER role must not be admin")
	}

	if _, err := auth.ValidateToken(token, "other-secret"); err == nil {
		t.Errorf("wrong secret must be rejected")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	auth := &AuthService{}
	token := signToken(t, &JWTClaims{
		UserID: uuid.New(),
		Role:   domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}, testSecret)

	if _, err := auth.ValidateToken(token, testSecret); err == nil {
		t.Errorf("expired token must be rejected")
	}
}

func TestResolveClientID(t *testing.T) {
	svc := &ClientService{}
	tenant := uuid.New()
	other := uuid.New()

	admin := &JWTClaims{Role: domain.RoleAdmin}
	if _, err := svc.ResolveClientID(admin, ""); err == nil {
		t.Errorf("admin without client_id must fail")
	}
	got, err := svc.ResolveClientID(admin, other.String())
	if err != nil || got != other {
		t.Errorf("admin resolve = %v, %v; want the requested tenant", got, err)
	}

	user := &JWTClaims{Role: domain.RoleUser, ClientID: &tenant}
	got, err = svc.ResolveClientID(user, "")
	if err != nil || got != tenant {
		t.Errorf("user resolve = %v, %v; want own tenant", got, err)
	}
	if _, err := svc.ResolveClientID(user, other.String()); err == nil {
		t.Errorf("user requesting another tenant must be denied")
	}

	orphan := &JWTClaims{Role: domain.RoleUser}
	if _, err := svc.ResolveClientID(orphan, ""); err == nil || !strings.Contains(err.Error(), "cliente") {
		t.Errorf("user without tenant: err = %v", err)
	}
}
