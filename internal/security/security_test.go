package security

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	now := time.Now()
	token, expiresAt, err := IssueAdminToken("secret", "admin", now, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected expiry in one hour, got %s", expiresAt)
	}
	claims, err := ParseAdminToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Username != "admin" {
		t.Fatalf("expected username admin, got %q", claims.Username)
	}
	if _, err := ParseAdminToken("other", token); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestAdminTokenExpired(t *testing.T) {
	token, _, err := IssueAdminToken("secret", "admin", time.Now().Add(-2*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseAdminToken("secret", token); err == nil {
		t.Fatalf("expected expired token rejected")
	}
}

func TestPasswordAndTOTP(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "s3cret") || CheckPassword(hash, "wrong") {
		t.Fatalf("expected bcrypt comparison to distinguish passwords")
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "ratelimitd", AccountName: "admin"})
	if err != nil {
		t.Fatalf("generate totp: %v", err)
	}
	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if !ValidateTOTP(key.Secret(), code) {
		t.Fatalf("expected current code accepted")
	}
	if ValidateTOTP(key.Secret(), "") {
		t.Fatalf("expected missing code rejected")
	}
	if !ValidateTOTP("", "") {
		t.Fatalf("expected disabled second factor to pass")
	}
}
