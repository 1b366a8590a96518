package utils

import "testing"

func TestGenerateAndVerifyToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, err := GenerateToken("user-123", "user")
	if err != nil {
		t.Fatalf("GenerateToken lỗi: %v", err)
	}

	claims, err := VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken lỗi: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("UserID = %q, muốn user-123", claims.UserID)
	}
	if claims.Role != "user" {
		t.Errorf("Role = %q, muốn user", claims.Role)
	}
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret-a")
	token, err := GenerateToken("user-123", "user")
	if err != nil {
		t.Fatalf("GenerateToken lỗi: %v", err)
	}

	t.Setenv("JWT_SECRET", "secret-b")
	if _, err := VerifyToken(token); err == nil {
		t.Error("token ký bằng secret khác phải bị từ chối")
	}
}

func TestVerifyTokenGarbage(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	if _, err := VerifyToken("không.phải.jwt"); err == nil {
		t.Error("chuỗi rác phải bị từ chối")
	}
}
