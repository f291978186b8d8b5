package api

import (
	"errors"
	"fmt"
	"net/http"
	"unsafe"

	"github.com/labstack/echo/v4"

	"taskboard/task-api/domain"
)

const headerAccessToken = "X-Access-Token"

var errBadAuthorization = errors.New("bad auth header")

var bearerPrefix = [...]byte{'B', 'e', 'a', 'r', 'e', 'r', ' '}

// bearerTokenFromHeader returns the raw token from Authorization, falling back to X-Access-Token.
// A missing credential yields domain.ErrUnauthenticated; a malformed one domain.ErrInvalidCredential.
func bearerTokenFromHeader(header http.Header) ([]byte, error) {
	if values := header.Values(echo.HeaderAuthorization); len(values) > 0 && trimSpaces(values[0]) != "" {
		return bearerTokenFromString(values[0])
	}
	if raw := trimSpaces(header.Get(headerAccessToken)); raw != "" {
		token := readOnlyBytes(raw)
		if countByte(token, '.') != 2 {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, errBadAuthorization)
		}
		return token, nil
	}
	return nil, domain.ErrUnauthenticated
}

func bearerTokenFromString(raw string) ([]byte, error) {
	trimmed := trimSpaces(raw)
	if trimmed == "" {
		return nil, domain.ErrUnauthenticated
	}
	tokenBytes := readOnlyBytes(trimmed)
	if len(tokenBytes) <= len(bearerPrefix) || !hasBearerPrefix(tokenBytes) {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, errBadAuthorization)
	}
	tokenBytes = tokenBytes[len(bearerPrefix):]
	if countByte(tokenBytes, '.') != 2 {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, errBadAuthorization)
	}
	return tokenBytes, nil
}

func trimSpaces(raw string) string {
	start := 0
	end := len(raw)
	for start < end && raw[start] == ' ' {
		start++
	}
	for end > start && raw[end-1] == ' ' {
		end--
	}
	return raw[start:end]
}

func hasBearerPrefix(value []byte) bool {
	if len(value) < len(bearerPrefix) {
		return false
	}
	for i := range bearerPrefix {
		if value[i] != bearerPrefix[i] {
			return false
		}
	}
	return true
}

func countByte(buf []byte, target byte) int {
	count := 0
	for _, b := range buf {
		if b == target {
			count++
		}
	}
	return count
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
