package vm

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func hashedEntry(t *testing.T, host string) string {
	t.Helper()
	salt := []byte("0123456789abcdefghij")
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(host))
	return fmt.Sprintf("|1|%s|%s ssh-ed25519 AAAAC3Nza...",
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func TestRemoveKnownHosts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "known_hosts")

	content := strings.Join([]string{
		"# comment stays",
		"myvm ssh-ed25519 AAAAC3Nza...",
		"myvm.example.local,192.168.122.50 ssh-rsa AAAAB3Nza...",
		"othervm ssh-ed25519 AAAAC3Nza...",
		hashedEntry(t, "myvm"),
		hashedEntry(t, "unrelated"),
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := removeKnownHosts(path, "myvm", "myvm.example.local", "192.168.122.50"); err != nil {
		t.Fatalf("removeKnownHosts() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)

	if strings.Contains(got, "myvm ssh-ed25519") {
		t.Error("plain entry was not removed")
	}
	if strings.Contains(got, "myvm.example.local") {
		t.Error("multi-host entry was not removed")
	}
	if !strings.Contains(got, "othervm") {
		t.Error("unrelated entry was removed")
	}
	if !strings.Contains(got, "# comment stays") {
		t.Error("comment was removed")
	}
	if strings.Contains(got, hashedEntry(t, "myvm")) {
		t.Error("hashed entry was not removed")
	}
	if !strings.Contains(got, hashedEntry(t, "unrelated")) {
		t.Error("unrelated hashed entry was removed")
	}
}

func TestRemoveKnownHostsMissingFile(t *testing.T) {
	if err := removeKnownHosts(filepath.Join(t.TempDir(), "nope"), "myvm"); err != nil {
		t.Errorf("removeKnownHosts() on missing file = %v, want nil", err)
	}
}

func TestRemoveKnownHostsNoMatchLeavesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "known_hosts")
	content := "othervm ssh-ed25519 AAAAC3Nza...\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := removeKnownHosts(path, "myvm"); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != content {
		t.Error("file without matches should be untouched")
	}
}
