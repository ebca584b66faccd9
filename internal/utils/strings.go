// Package utils provides small helpers shared by the gateway packages.
package utils

const masked = "****"

// MaskKey masks an upstream API key for logs, keeping the first 8 and last 4
// characters. Keys shorter than 16 characters are fully masked.
func MaskKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	return maskEnds(key, 8, 4, 16)
}

// MaskKeyShort keeps only the first and last 4 characters. Used where the
// key is printed alongside other config values.
func MaskKeyShort(key string) string {
	return maskEnds(key, 4, 4, 9)
}

func maskEnds(key string, head, tail, minLen int) string {
	if len(key) < minLen {
		return masked
	}
	return key[:head] + "..." + key[len(key)-tail:]
}
