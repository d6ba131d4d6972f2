package pkg

import (
	"strings"
	"unsafe"
)

// BytesToString converts a byte slice without an allocation.
func BytesToString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// SanitizeLogOutput strips control characters that could forge log lines.
func SanitizeLogOutput(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	return strings.TrimSpace(s)
}
