package transfer

import (
	"net/url"
	"strings"
)

// FilenameFromContentDisposition extracts the output filename from a
// Content-Disposition header. The RFC 5987 extended form
// (filename*=UTF-8''percent-encoded) is preferred, then the plain
// filename= attribute (quoted or bare), then the caller-supplied default.
func FilenameFromContentDisposition(header, fallback string) string {
	if header == "" {
		return fallback
	}

	var plain string
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		lower := strings.ToLower(part)

		switch {
		case strings.HasPrefix(lower, "filename*="):
			value := part[len("filename*="):]
			if name := decodeExtendedFilename(value); name != "" {
				return name
			}
		case strings.HasPrefix(lower, "filename="):
			plain = strings.Trim(part[len("filename="):], `"`)
		}
	}

	if plain != "" {
		return plain
	}
	return fallback
}

// decodeExtendedFilename handles the charset''percent-encoded form of
// RFC 5987. Only the value after the language marker is used.
func decodeExtendedFilename(value string) string {
	value = strings.Trim(value, `"`)

	idx := strings.Index(value, "''")
	if idx >= 0 {
		value = value[idx+2:]
	}

	decoded, err := url.PathUnescape(value)
	if err != nil {
		return ""
	}
	return decoded
}
