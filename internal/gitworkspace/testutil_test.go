package gitworkspace

import (
	"os"
	"strings"
)

func writeFileContents(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
