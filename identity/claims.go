package identity

import (
	"fmt"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-session-client/sessions"
	"github.com/jrsteele09/go-session-client/users"
)

// DecodeAccessToken reads identity claims out of a JWT access token without verifying it.
// The client is not the audience that validates the token; it only needs the display
// identity and expiry the original login response carried. Opaque tokens report false.
func DecodeAccessToken(accessToken string) (sessions.Identity, bool) {
	if strings.Count(accessToken, ".") != 2 {
		return sessions.Identity{}, false
	}

	token, _, err := jwtlib.NewParser().ParseUnverified(accessToken, jwtlib.MapClaims{})
	if err != nil {
		return sessions.Identity{}, false
	}
	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return sessions.Identity{}, false
	}

	id := sessions.Identity{
		UserID:   claimString(claims, "user_id", "sub"),
		Username: claimString(claims, "username", "preferred_username", "name"),
		Role:     users.RoleType(claimString(claims, "role")),
	}
	if id.Role == "" {
		if roles, ok := claims["roles"].([]any); ok && len(roles) > 0 {
			id.Role = users.RoleType(fmt.Sprint(roles[0]))
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.Expiry = exp.Time
	}
	return id, true
}

func claimString(claims jwtlib.MapClaims, keys ...string) string {
	for _, k := range keys {
		switch v := claims[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
