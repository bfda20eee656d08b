package httpapi

import (
	"testing"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store/memory"
)

func TestAuthManagerLoginAndParse(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	resp, err := auth.Login(domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "cashier" {
		t.Fatalf("role = %s, want cashier", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "cashier" || actor.Role != "cashier" {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestAuthManagerRejectsBadCredentials(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	if _, err := auth.Login(domain.LoginRequest{Username: "cashier", Password: "nope"}); err == nil {
		t.Fatalf("expected login failure")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "ghost", Password: "whatever"}); err == nil {
		t.Fatalf("expected login failure for unknown user")
	}
}

func TestAuthManagerRejectsExpiredToken(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	token, err := auth.sign("cashier", "cashier", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected expired token rejection")
	}
}

func TestAuthManagerRejectsForeignSecret(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	other := NewAuthManager("another-secret-key", time.Hour, nil)

	token, err := other.sign("cashier", "cashier", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected signature mismatch rejection")
	}
}

func TestCreateCashier(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	created, err := auth.CreateCashier(domain.CashierCreateRequest{Username: "budi", Password: "rahasia1"})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if created.Role != "cashier" || !created.Active {
		t.Fatalf("unexpected cashier: %+v", created)
	}

	if _, err := auth.Login(domain.LoginRequest{Username: "budi", Password: "rahasia1"}); err != nil {
		t.Fatalf("login as new cashier: %v", err)
	}

	if _, err := auth.CreateCashier(domain.CashierCreateRequest{Username: "budi", Password: "rahasia1"}); err == nil {
		t.Fatalf("expected duplicate username rejection")
	}
	if _, err := auth.CreateCashier(domain.CashierCreateRequest{Username: "ab", Password: "rahasia1"}); err == nil {
		t.Fatalf("expected short username rejection")
	}
	if _, err := auth.CreateCashier(domain.CashierCreateRequest{Username: "lucky", Password: "123"}); err == nil {
		t.Fatalf("expected short password rejection")
	}
}
