package vm

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// removeKnownHosts drops entries for the given hosts from an OpenSSH
// known_hosts file, the same way ssh-keygen -R does. Both plain host lists
// and hashed entries (|1|salt|digest| with digest = HMAC-SHA1(salt, host))
// are handled. A missing file is fine.
func removeKnownHosts(path string, hosts ...string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read known_hosts %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	kept := make([]string, 0, len(lines))
	changed := false

	for _, line := range lines {
		if lineMatchesHosts(line, hosts) {
			changed = true
			continue
		}
		kept = append(kept, line)
	}

	if !changed {
		return nil
	}

	if err := os.WriteFile(path, []byte(strings.Join(kept, "\n")), 0o600); err != nil {
		return fmt.Errorf("failed to rewrite known_hosts %s: %w", path, err)
	}
	return nil
}

func lineMatchesHosts(line string, hosts []string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return false
	}

	fields := strings.Fields(trimmed)
	if len(fields) < 3 {
		return false
	}
	hostField := fields[0]

	if strings.HasPrefix(hostField, "|1|") {
		return hashedFieldMatches(hostField, hosts)
	}

	for _, entry := range strings.Split(hostField, ",") {
		entry = strings.TrimPrefix(entry, "[")
		if i := strings.Index(entry, "]"); i >= 0 {
			entry = entry[:i]
		}
		for _, host := range hosts {
			if entry == host {
				return true
			}
		}
	}
	return false
}

func hashedFieldMatches(field string, hosts []string) bool {
	parts := strings.Split(field, "|")
	if len(parts) != 4 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	digest, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}

	for _, host := range hosts {
		mac := hmac.New(sha1.New, salt)
		mac.Write([]byte(host))
		if hmac.Equal(mac.Sum(nil), digest) {
			return true
		}
	}
	return false
}
