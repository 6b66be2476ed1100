package utils

// MaskSecret keeps a short prefix so operators can tell keys apart in logs.
// An unset secret stays visibly empty.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "*****"
	}
	return s[:4] + "*****"
}
