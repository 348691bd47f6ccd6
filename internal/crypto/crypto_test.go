package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateProfileKey(t *testing.T) {
	key, err := GenerateProfileKey()
	if err != nil {
		t.Fatalf("GenerateProfileKey() error = %v", err)
	}
	if key.IsZero() {
		t.Fatal("generated key is zero")
	}
}

func TestGenerateProfileKey_Unique(t *testing.T) {
	k1, _ := GenerateProfileKey()
	k2, _ := GenerateProfileKey()
	if k1 == k2 {
		t.Fatal("two generated profile keys should not be identical")
	}
}

func TestProfileKeyRoundtrip(t *testing.T) {
	key, _ := GenerateProfileKey()
	decoded, err := ProfileKeyFromBase64(key.Base64())
	if err != nil {
		t.Fatalf("ProfileKeyFromBase64() error = %v", err)
	}
	if decoded != key {
		t.Fatal("profile key roundtrip mismatch")
	}
}

func TestProfileKeyFromBytes_WrongLength(t *testing.T) {
	if _, err := ProfileKeyFromBytes(make([]byte, 16)); err == nil {
		t.Fatal("expected error for wrong-length key bytes")
	}
}

func TestDeriveAccessKey_Deterministic(t *testing.T) {
	key, _ := GenerateProfileKey()
	a1, err := DeriveAccessKey(key, false)
	if err != nil {
		t.Fatalf("DeriveAccessKey() error = %v", err)
	}
	a2, _ := DeriveAccessKey(key, false)
	if a1 != a2 {
		t.Fatal("derivation should be deterministic")
	}
}

func TestDeriveAccessKey_UUIDOnlyDistinct(t *testing.T) {
	key, _ := GenerateProfileKey()
	full, _ := DeriveAccessKey(key, false)
	uuidOnly, _ := DeriveAccessKey(key, true)
	if full == uuidOnly {
		t.Fatal("uuid-only key must differ from the full key")
	}
}

func TestDeriveAccessKey_NewKeyInvalidatesOld(t *testing.T) {
	k1, _ := GenerateProfileKey()
	k2, _ := GenerateProfileKey()
	a1, _ := DeriveAccessKey(k1, false)
	a2, _ := DeriveAccessKey(k2, false)
	if a1 == a2 {
		t.Fatal("keys derived from distinct profile keys must differ")
	}
}

func TestDeriveAccessKey_ZeroKey(t *testing.T) {
	if _, err := DeriveAccessKey(ProfileKey{}, false); err == nil {
		t.Fatal("expected error for zero profile key")
	}
}

func TestCombineAccessKeys_SelfInverse(t *testing.T) {
	key, _ := GenerateProfileKey()
	a, _ := DeriveAccessKey(key, false)
	combined, err := CombineAccessKeys([]AccessKey{a, a})
	if err != nil {
		t.Fatalf("CombineAccessKeys() error = %v", err)
	}
	if !combined.IsZero() {
		t.Fatal("xor of a key with itself should be zero")
	}
}

func TestCombineAccessKeys_OrderIndependent(t *testing.T) {
	k1, _ := GenerateProfileKey()
	k2, _ := GenerateProfileKey()
	a1, _ := DeriveAccessKey(k1, false)
	a2, _ := DeriveAccessKey(k2, false)
	c1, _ := CombineAccessKeys([]AccessKey{a1, a2})
	c2, _ := CombineAccessKeys([]AccessKey{a2, a1})
	if c1 != c2 {
		t.Fatal("composite key should not depend on recipient order")
	}
}

func TestCombineAccessKeys_Empty(t *testing.T) {
	if _, err := CombineAccessKeys(nil); err == nil {
		t.Fatal("expected error for empty key list")
	}
}

func TestNameEncryptionRoundtrip(t *testing.T) {
	key, _ := GenerateProfileKey()
	sealed, err := EncryptName(key, "Aino")
	if err != nil {
		t.Fatalf("EncryptName() error = %v", err)
	}
	name, err := DecryptName(key, sealed)
	if err != nil {
		t.Fatalf("DecryptName() error = %v", err)
	}
	if name != "Aino" {
		t.Fatalf("DecryptName() = %q, want %q", name, "Aino")
	}
}

func TestDecryptName_WrongKey(t *testing.T) {
	k1, _ := GenerateProfileKey()
	k2, _ := GenerateProfileKey()
	sealed, _ := EncryptName(k1, "Aino")
	if _, err := DecryptName(k2, sealed); err == nil {
		t.Fatal("expected decryption failure under a different key")
	}
}

func TestDecryptName_Truncated(t *testing.T) {
	key, _ := GenerateProfileKey()
	if _, err := DecryptName(key, []byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}

func TestEncryptName_Empty(t *testing.T) {
	key, _ := GenerateProfileKey()
	sealed, err := EncryptName(key, "")
	if err != nil || sealed != nil {
		t.Fatalf("empty name should seal to nil, got %v, %v", sealed, err)
	}
	name, err := DecryptName(key, nil)
	if err != nil || name != "" {
		t.Fatalf("nil ciphertext should open to empty name, got %q, %v", name, err)
	}
}

func TestWrapKeyRoundtrip(t *testing.T) {
	master := make([]byte, MasterKeySize)
	master[0] = 0x42
	key, _ := GenerateProfileKey()

	wrapped, err := WrapKey(master, key)
	if err != nil {
		t.Fatalf("WrapKey() error = %v", err)
	}
	got, err := UnwrapKey(master, wrapped)
	if err != nil {
		t.Fatalf("UnwrapKey() error = %v", err)
	}
	if got != key {
		t.Fatal("wrapped key roundtrip mismatch")
	}
}

func TestUnwrapKey_WrongMaster(t *testing.T) {
	master := make([]byte, MasterKeySize)
	other := make([]byte, MasterKeySize)
	other[0] = 0xFF
	key, _ := GenerateProfileKey()

	wrapped, _ := WrapKey(master, key)
	if _, err := UnwrapKey(other, wrapped); err == nil {
		t.Fatal("expected unwrap failure under a different master key")
	}
}

func TestWrapKey_BadMasterLength(t *testing.T) {
	key, _ := GenerateProfileKey()
	if _, err := WrapKey(make([]byte, 16), key); err == nil {
		t.Fatal("expected error for short master key")
	}
	if _, err := UnwrapKey(make([]byte, 16), []byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short master key")
	}
}

func TestWipe(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	Wipe(buf)
	if !bytes.Equal(buf, make([]byte, 4)) {
		t.Fatal("buffer not zeroed")
	}
}
