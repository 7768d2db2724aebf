package auth

import "testing"

func TestHashAndVerifyRoundTrip(t *testing.T) {
	hash, salt, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword("hunter2", hash, salt) {
		t.Error("VerifyPassword should accept the correct password")
	}
	if VerifyPassword("wrong", hash, salt) {
		t.Error("VerifyPassword should reject the wrong password")
	}
}

func TestHashPasswordUsesFreshSalt(t *testing.T) {
	h1, s1, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, s2, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if string(s1) == string(s2) {
		t.Error("expected distinct salts across calls")
	}
	if string(h1) == string(h2) {
		t.Error("expected distinct hashes when salts differ")
	}
}
