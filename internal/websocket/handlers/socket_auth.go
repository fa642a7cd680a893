package handlers

import (
	"errors"
	"strings"

	"github.com/bhandras/huddle/shared/wire"
)

// ValidateSocketAuthPayload validates the Socket.IO handshake auth payload and
// returns the bearer token it carries.
func ValidateSocketAuthPayload(auth wire.SocketAuthPayload) (string, error) {
	token := strings.TrimSpace(auth.Token)
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return "", errors.New("Missing authentication token")
	}
	return token, nil
}
