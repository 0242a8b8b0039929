package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the access token payload. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	Tier      string `json:"tier"`
	Admin     bool   `json:"admin,omitempty"`
	SuperUser bool   `json:"super,omitempty"`
}
