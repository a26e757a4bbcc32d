package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

// isSafeName validates service names arriving over the API so they never
// reach filesystem paths or registry lookups with traversal sequences.
// Allowed characters: A-Z a-z 0-9 . _ - and no "..".
func isSafeName(s string) bool {
	if s == "" {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return !strings.ContainsAny(s, "/\\")
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
