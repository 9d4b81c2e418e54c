package security

import (
	"regexp"
)

var (
	reBearer      = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._~+/=-]+)`)
	reTokenPair   = regexp.MustCompile(`(?i)((?:access_token|refresh_token|token)["']?\s*[=:]\s*["']?)([^\s"'&,;}]+)`)
	reSecretPair  = regexp.MustCompile(`(?i)((?:client_secret|password|secret)["']?\s*[=:]\s*["']?)([^\s"'&,;}]+)`)
	reDatabricksT = regexp.MustCompile(`\bdapi[0-9a-f]{16,}\b`)
)

// Mask replaces credentials in s with "***" so it is safe to log or show.
func Mask(s string) string {
	out := reBearer.ReplaceAllString(s, "$1***")
	out = reTokenPair.ReplaceAllString(out, "$1***")
	out = reSecretPair.ReplaceAllString(out, "$1***")
	out = reDatabricksT.ReplaceAllString(out, "dapi***")
	return out
}
