package serverdb

import (
	"strings"
	"testing"
	"time"
)

func TestCreateAuthRequest(t *testing.T) {
	db := newTestDB(t)
	ar, err := db.CreateAuthRequest("test@example.com", ClientCLI)
	if err != nil {
		t.Fatalf("create auth request: %v", err)
	}
	if !strings.HasPrefix(ar.ID, "ar_") {
		t.Errorf("unexpected id prefix: %s", ar.ID)
	}
	if len(ar.DeviceCode) != 40 {
		t.Errorf("expected 40-char device code, got %d", len(ar.DeviceCode))
	}
	if !IsValidUserCode(ar.UserCode) {
		t.Errorf("generated user code is not valid: %q", ar.UserCode)
	}
	if ar.Status != AuthStatusPending {
		t.Errorf("expected pending status, got %s", ar.Status)
	}
	if ar.ExpiresAt.Before(time.Now().UTC()) {
		t.Error("expires_at should be in the future")
	}
}

func TestCreateAuthRequestBadClient(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateAuthRequest("test@example.com", "tv"); err == nil {
		t.Fatal("expected error for unknown client")
	}
}

func TestGetAuthRequestByDeviceCode(t *testing.T) {
	db := newTestDB(t)
	ar, _ := db.CreateAuthRequest("test@example.com", ClientCLI)

	found, err := db.GetAuthRequestByDeviceCode(ar.DeviceCode)
	if err != nil {
		t.Fatalf("get by device code: %v", err)
	}
	if found == nil || found.ID != ar.ID {
		t.Fatal("auth request not found by device code")
	}
	if found.Client != ClientCLI {
		t.Errorf("expected client cli, got %s", found.Client)
	}

	missing, err := db.GetAuthRequestByDeviceCode("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for unknown device code")
	}
}

func TestCLIVerifyAndComplete(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("cli@example.com")
	ar, _ := db.CreateAuthRequest(u.Email, ClientCLI)

	found, err := db.GetAuthRequestByUserCode(ar.UserCode)
	if err != nil || found == nil {
		t.Fatalf("get by user code: %v %v", found, err)
	}

	// Completing before verification is a no-op.
	done, err := db.CompleteAuthRequest(ar.DeviceCode)
	if err != nil {
		t.Fatal(err)
	}
	if done != nil {
		t.Fatal("pending request should not complete")
	}

	if err := db.VerifyAuthRequest(ar.UserCode, u.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := db.VerifyAuthRequest(ar.UserCode, u.ID); err == nil {
		t.Fatal("second verify should fail")
	}

	done, err = db.CompleteAuthRequest(ar.DeviceCode)
	if err != nil {
		t.Fatal(err)
	}
	if done == nil || done.Status != AuthStatusUsed {
		t.Fatal("expected request to be used")
	}
	if done.UserID == nil || *done.UserID != u.ID {
		t.Error("user_id not recorded")
	}
	if done.VerifiedAt == nil {
		t.Error("verified_at not recorded")
	}

	again, _ := db.CompleteAuthRequest(ar.DeviceCode)
	if again != nil {
		t.Fatal("request must only complete once")
	}
}

func TestUserCodeLookupIgnoresWebRequests(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("web@example.com")
	ar, _ := db.CreateAuthRequest(u.Email, ClientWeb)

	found, err := db.GetAuthRequestByUserCode(ar.UserCode)
	if err != nil {
		t.Fatal(err)
	}
	if found != nil {
		t.Fatal("web request must not be reachable by user code alone")
	}
	if err := db.VerifyAuthRequest(ar.UserCode, u.ID); err == nil {
		t.Fatal("web request must not verify through the CLI path")
	}
}

func TestRedeemAuthRequest(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("web@example.com")
	ar, _ := db.CreateAuthRequest(u.Email, ClientWeb)

	wrong, err := db.RedeemAuthRequest(ar.DeviceCode, "ZZZZZZ", u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if wrong != nil {
		t.Fatal("wrong user code must not redeem")
	}

	got, err := db.RedeemAuthRequest(ar.DeviceCode, ar.UserCode, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != AuthStatusUsed {
		t.Fatal("expected request to be used")
	}

	again, _ := db.RedeemAuthRequest(ar.DeviceCode, ar.UserCode, u.ID)
	if again != nil {
		t.Fatal("request must only redeem once")
	}
}

func TestRedeemExpiredAuthRequest(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("late@example.com")
	ar, _ := db.CreateAuthRequest(u.Email, ClientWeb)
	db.ForceExpireAuthRequestForTest(ar.ID, time.Now().UTC().Add(-time.Minute))

	got, err := db.RedeemAuthRequest(ar.DeviceCode, ar.UserCode, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expired request must not redeem")
	}
}

func TestCleanupExpiredAuthRequests(t *testing.T) {
	db := newTestDB(t)
	old, _ := db.CreateAuthRequest("old@example.com", ClientCLI)
	db.CreateAuthRequest("fresh@example.com", ClientCLI)
	db.ForceExpireAuthRequestForTest(old.ID, time.Now().UTC().Add(-time.Minute))

	n, err := db.CleanupExpiredAuthRequests()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	found, _ := db.GetAuthRequestByDeviceCode(old.DeviceCode)
	if found.Status != AuthStatusExpired {
		t.Errorf("expected expired status, got %s", found.Status)
	}
}

func TestSetAuthRequestAPIKey(t *testing.T) {
	db := newTestDB(t)
	ar, _ := db.CreateAuthRequest("k@example.com", ClientCLI)
	if err := db.SetAuthRequestAPIKey(ar.ID, "ak_abc"); err != nil {
		t.Fatal(err)
	}
	found, _ := db.GetAuthRequestByDeviceCode(ar.DeviceCode)
	if found.APIKeyID == nil || *found.APIKeyID != "ak_abc" {
		t.Fatal("api_key_id not stored")
	}
}

func TestIsValidUserCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"ABC234", true},
		{"abc234", false},
		{"ABC23", false},
		{"ABC2345", false},
		{"ABCDE0", false}, // zero is excluded
		{"ABCDEI", false}, // I is excluded
	}
	for _, tt := range tests {
		if got := IsValidUserCode(tt.code); got != tt.want {
			t.Errorf("IsValidUserCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
