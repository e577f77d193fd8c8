package password

import (
	"errors"
	"strings"
	"testing"
)

func fastArgon2(t *testing.T) *Argon2 {
	t.Helper()
	a, err := NewArgon2(Argon2Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return a
}

func TestBcryptHashAndVerify(t *testing.T) {
	b := NewBcrypt(4)
	hash, err := b.Hash("correct-horse-9")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if ok, err := b.Verify("correct-horse-9", hash); err != nil || !ok {
		t.Fatalf("Verify(correct) = %v, %v", ok, err)
	}
	if ok, err := b.Verify("wrong-horse-9", hash); err != nil || ok {
		t.Fatalf("Verify(wrong) = %v, %v", ok, err)
	}
}

func TestBcryptCostClamped(t *testing.T) {
	if got := NewBcrypt(1).Cost; got != 4 {
		t.Fatalf("cost = %d, want 4", got)
	}
	if got := NewBcrypt(99).Cost; got != 31 {
		t.Fatalf("cost = %d, want 31", got)
	}
}

func TestArgon2HashAndVerify(t *testing.T) {
	a := fastArgon2(t)
	hash, err := a.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}
	if ok, err := a.Verify("P@ssw0rd-Ascii", hash); err != nil || !ok {
		t.Fatalf("Verify(correct) = %v, %v", ok, err)
	}
	if ok, _ := a.Verify("other", hash); ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestArgon2RejectsMalformedAndWrongVersion(t *testing.T) {
	a := fastArgon2(t)
	if _, err := a.Verify("password", "not-a-phc-hash"); err == nil {
		t.Fatal("expected malformed hash verification to fail")
	}
	hash, _ := a.Hash("version-test")
	wrong := strings.Replace(hash, "$v=19$", "$v=18$", 1)
	if _, err := a.Verify("version-test", wrong); err == nil {
		t.Fatal("expected unsupported version verification to fail")
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := DefaultArgon2Config()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected weak memory parameter to be rejected")
	}
}

func TestMultiVerifiesLegacyArgon2(t *testing.T) {
	m := &Multi{Primary: NewBcrypt(4), Legacy: fastArgon2(t)}

	legacy, _ := m.Legacy.Hash("legacyPass123")
	if ok, err := m.Verify("legacyPass123", legacy); err != nil || !ok {
		t.Fatalf("Verify(argon2) = %v, %v", ok, err)
	}

	current, err := m.Hash("currentPass123")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !isBcrypt(current) {
		t.Fatalf("new hashes should be bcrypt, got %q", current[:7])
	}
	if ok, err := m.Verify("currentPass123", current); err != nil || !ok {
		t.Fatalf("Verify(bcrypt) = %v, %v", ok, err)
	}

	if _, err := m.Verify("x", "plaintext"); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("Verify(unknown) error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"short1", false},
		{"onlyletterslong", false},
		{"1234567890123", false},
		{"letters4andDigits", true},
		{strings.Repeat("a1", 36), true},
		{strings.Repeat("a1", 37), false},
	}
	for _, tt := range tests {
		err := Validate(tt.password)
		if tt.ok && err != nil {
			t.Errorf("Validate(%q) error = %v", tt.password, err)
		}
		if !tt.ok && !errors.Is(err, ErrPolicy) {
			t.Errorf("Validate(%q) error = %v, want ErrPolicy", tt.password, err)
		}
	}
}

func TestArgon2RejectsWeakStoredParameters(t *testing.T) {
	a := fastArgon2(t)
	hash, _ := a.Hash("weak-params")
	weak := strings.Replace(hash, "m=8192", "m=1024", 1)
	if _, err := a.Verify("weak-params", weak); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("Verify(weak) error = %v, want ErrMalformedHash", err)
	}
}
