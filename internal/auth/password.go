package auth

import "golang.org/x/crypto/bcrypt"

// HashPIN hashes a plaintext rider PIN using bcrypt with DefaultCost.
func HashPIN(pin string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	return string(b), err
}

// CheckPIN compares a bcrypt hash with a candidate plaintext PIN.
func CheckPIN(hash, pin string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
}
