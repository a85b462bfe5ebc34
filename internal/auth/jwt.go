package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the verified contents of a rider session token.
type Claims struct {
	Subject string
	JWTID   string
}

// Sign issues an HS256 session token for a client. The jti indexes the
// session row that can later be revoked or expire.
func Sign(secret []byte, clientID, jti string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": clientID,
		"jti": jti,
		"exp": time.Now().Add(ttl).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Verify parses and validates a session token.
func Verify(secret []byte, tokenStr string) (Claims, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return Claims{}, errors.New("invalid token")
	}
	mapc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("invalid claims")
	}
	sub, _ := mapc["sub"].(string)
	jti, _ := mapc["jti"].(string)
	return Claims{Subject: sub, JWTID: jti}, nil
}
