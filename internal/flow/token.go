package flow

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is the verified identity of one flow session.
type TokenInfo struct {
	Valid       bool                   `json:"valid"`
	UserID      string                 `json:"user_id,omitempty"`
	FlowID      string                 `json:"flow_id"`
	Source      string                 `json:"source"`
	SessionData map[string]interface{} `json:"session_data,omitempty"`
}

// Tokens mints and verifies the opaque flow tokens that scope a flow session
// to one user and one intent. HS256 JWTs under a dedicated secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: 30 * time.Minute}
}

func (t *Tokens) Mint(userID, flowID, source string, sessionData map[string]interface{}) (string, error) {
	claims := jwt.MapClaims{
		"sub":     userID,
		"flow_id": flowID,
		"source":  source,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(t.ttl).Unix(),
	}
	if sessionData != nil {
		claims["session"] = sessionData
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *Tokens) Verify(tokenString string) (*TokenInfo, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return &TokenInfo{Valid: false}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return &TokenInfo{Valid: false}, nil
	}

	info := &TokenInfo{Valid: true}
	info.UserID, _ = claims["sub"].(string)
	info.FlowID, _ = claims["flow_id"].(string)
	info.Source, _ = claims["source"].(string)
	if session, ok := claims["session"].(map[string]interface{}); ok {
		info.SessionData = session
	}
	return info, nil
}
