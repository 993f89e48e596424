package security

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "***REDACTED***"

var (
	jwtPattern      = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)
	providerKey     = regexp.MustCompile(`sk_[a-f0-9]{8,}:[a-zA-Z0-9_-]+`)
	credentialParam = regexp.MustCompile(`(?i)(api[_-]?key|apikey|provider[_-]?key|secret|token|password|signature)(["\s:=]+["']?)([^"'&\s,}]{4,})`)
	urlPattern      = regexp.MustCompile(`https?://[^\s"']+`)

	sensitiveFields = []string{
		"password", "secret", "token", "api_key", "apikey", "provider_key",
		"authorization", "signature", "credential",
	}
)

// MaskString masks credentials that may appear in free text such as
// transport errors or raw alert bodies.
func MaskString(s string) string {
	s = urlPattern.ReplaceAllStringFunc(s, MaskURL)
	s = jwtPattern.ReplaceAllString(s, "eyJ"+redacted)
	s = providerKey.ReplaceAllStringFunc(s, MaskAPIKey)
	s = credentialParam.ReplaceAllString(s, "$1$2"+redacted)
	return s
}

// MaskURL removes userinfo and query values from a URL. Webhook
// destinations often carry tokens in either place.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if u.User != nil {
		u.User = url.User(redacted)
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			q.Set(k, "***")
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// MaskAPIKey keeps the key prefix and selector head so keys stay
// distinguishable in logs.
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:7] + strings.Repeat("*", len(key)-7)
}

// MaskMap masks sensitive fields in a decoded JSON object.
func MaskMap(data map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(data))
	for k, v := range data {
		if isSensitiveField(k) {
			masked[k] = redacted
			continue
		}
		switch val := v.(type) {
		case string:
			masked[k] = MaskString(val)
		case map[string]interface{}:
			masked[k] = MaskMap(val)
		case []interface{}:
			masked[k] = maskSlice(val)
		default:
			masked[k] = v
		}
	}
	return masked
}

func isSensitiveField(field string) bool {
	lower := strings.ToLower(field)
	for _, sensitive := range sensitiveFields {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

func maskSlice(slice []interface{}) []interface{} {
	masked := make([]interface{}, len(slice))
	for i, v := range slice {
		switch val := v.(type) {
		case string:
			masked[i] = MaskString(val)
		case map[string]interface{}:
			masked[i] = MaskMap(val)
		default:
			masked[i] = v
		}
	}
	return masked
}
