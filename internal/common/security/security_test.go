package security

import (
	"encoding/json"
	"testing"
	"time"

	"aca_backend/internal/domain/model"
)

func TestTokenRoundTrip(t *testing.T) {
	Configure([]byte("test-secret"), 12*time.Hour)

	want := model.Identity{UserID: 42, Email: "ada@example.com", Role: model.RoleTeacher}
	token, err := GenerateToken(want)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	got, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if got != want {
		t.Errorf("identity = %+v, want %+v", got, want)
	}
}

func TestParseTokenRejects(t *testing.T) {
	Configure([]byte("test-secret"), -time.Minute)
	expired, err := GenerateToken(model.Identity{UserID: 1, Email: "a@b.c", Role: model.RoleStudent})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	Configure([]byte("other-secret"), time.Hour)
	forged, err := GenerateToken(model.Identity{UserID: 1, Email: "a@b.c", Role: model.RoleTeacher})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	Configure([]byte("test-secret"), time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong signature", forged},
		{"malformed", "not.a.jwt"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token); err == nil {
				t.Errorf("ParseToken(%s) succeeded, want error", tt.name)
			}
		})
	}
}

func TestGetUserIDFromClaims(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    int64
		wantErr bool
	}{
		{"float64", float64(7), 7, false},
		{"int64", int64(8), 8, false},
		{"int", 9, 9, false},
		{"json number", json.Number("10"), 10, false},
		{"string", "11", 11, false},
		{"missing", nil, 0, true},
		{"bool", true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetUserIDFromClaims(map[string]interface{}{"id": tt.value})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("id = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret" {
		t.Fatal("hash equals plaintext")
	}
	if !CheckPasswordHash("s3cret", hash) {
		t.Error("CheckPasswordHash rejected the right password")
	}
	if CheckPasswordHash("wrong", hash) {
		t.Error("CheckPasswordHash accepted the wrong password")
	}
	if !IsPasswordHash(hash) {
		t.Error("IsPasswordHash(hash) = false")
	}
	if IsPasswordHash("plaintext-from-legacy-db") {
		t.Error("IsPasswordHash(plaintext) = true")
	}
}
