/*
 * Copyright (c) 2026. Byta Labs.
 * All Rights reserved.
 */

package misc

import (
	"net/url"
	"os"
	"strings"
)

var secretsMap = map[string]string{}

func GetSecret(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return secretsMap[key]
}

// RedactURL strips credentials, query strings and any api key path segment from an rpc url so it can be
// logged. Providers commonly embed the key as the last path element.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(invalid url)"
	}
	u.User = nil
	u.RawQuery = ""
	if parts := strings.Split(strings.Trim(u.Path, "/"), "/"); len(parts) > 0 && len(parts[len(parts)-1]) >= 16 {
		parts[len(parts)-1] = "redacted"
		u.Path = "/" + strings.Join(parts, "/")
	}
	return u.String()
}
