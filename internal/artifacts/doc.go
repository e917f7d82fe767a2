// Package artifacts groups the forensic blob stores that keep screenshots and
// HTML snapshots of failed browser attempts. Backends live in subpackages and
// all satisfy scrape.BlobStore.
package artifacts

import (
	"fmt"
	"path"
	"strings"
)

// ObjectPath joins prefix and key into a clean slash-separated object name,
// rejecting keys that would escape the prefix.
func ObjectPath(prefix, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("path is required")
	}
	cleaned := path.Clean("/" + key)
	if strings.Contains(key, "..") && cleaned != "/"+strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("path traversal detected")
	}
	cleaned = strings.TrimPrefix(cleaned, "/")
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		// Avoid doubling the prefix when callers already include it.
		if cleaned != prefix && !strings.HasPrefix(cleaned, prefix+"/") {
			cleaned = prefix + "/" + cleaned
		}
	}
	return cleaned, nil
}
