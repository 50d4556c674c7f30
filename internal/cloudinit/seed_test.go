package cloudinit

import (
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/fkooman/kvm-install-vm/internal/distro"
)

func TestGenerateUserDataPlainCloudConfig(t *testing.T) {
	got, err := GenerateUserData(SeedData{
		Hostname: "myvm",
		FQDN:     "myvm.example.local",
		Timezone: "Etc/UTC",
		SSHKey:   "ssh-ed25519 AAAA... user@host",
		Family:   distro.FamilyDebian,
	})
	if err != nil {
		t.Fatalf("GenerateUserData() error = %v", err)
	}

	if !strings.HasPrefix(got, "#cloud-config\n") {
		t.Errorf("user-data should start with #cloud-config header, got %q", got[:40])
	}

	var cc map[string]any
	if err := yaml.Unmarshal([]byte(strings.TrimPrefix(got, "#cloud-config\n")), &cc); err != nil {
		t.Fatalf("user-data is not valid YAML: %v", err)
	}
	if cc["hostname"] != "myvm" {
		t.Errorf("hostname = %v", cc["hostname"])
	}
	if cc["fqdn"] != "myvm.example.local" {
		t.Errorf("fqdn = %v", cc["fqdn"])
	}
	if !strings.Contains(got, "ssh-ed25519 AAAA") {
		t.Error("ssh key not injected")
	}
	// Debian family first-boot commands.
	if !strings.Contains(got, "networking") {
		t.Error("missing debian network restart command")
	}
	if !strings.Contains(got, "apt-get") {
		t.Error("missing debian cloud-init removal command")
	}
}

func TestGenerateUserDataFamilyCommands(t *testing.T) {
	tests := []struct {
		family distro.Family
		want   []string
	}{
		{distro.FamilyRHEL, []string{"yum", "network"}},
		{distro.FamilyDebian, []string{"apt-get", "networking"}},
		{distro.FamilySUSE, []string{"zypper", "network"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			got, err := GenerateUserData(SeedData{Hostname: "vm", Family: tt.family})
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("user-data for %s missing %q", tt.family, w)
				}
			}
		})
	}
}

func TestGenerateUserDataMultipartWithScript(t *testing.T) {
	script := "#!/bin/sh\necho provisioned > /etc/motd\n"
	got, err := GenerateUserData(SeedData{
		Hostname: "myvm",
		Family:   distro.FamilyRHEL,
		Script:   []byte(script),
	})
	if err != nil {
		t.Fatalf("GenerateUserData() error = %v", err)
	}

	// Parse the envelope back as a real MIME consumer would.
	header, body, ok := strings.Cut(got, "\n\n")
	if !ok {
		t.Fatal("no header/body separator in multipart document")
	}
	var contentType string
	for _, line := range strings.Split(header, "\n") {
		if strings.HasPrefix(line, "Content-Type:") {
			contentType = strings.TrimSpace(strings.TrimPrefix(line, "Content-Type:"))
		}
	}
	mediaType, mparams, err := mime.ParseMediaType(contentType)
	if err != nil {
		t.Fatalf("invalid Content-Type %q: %v", contentType, err)
	}
	if mediaType != "multipart/mixed" {
		t.Errorf("media type = %q, want multipart/mixed", mediaType)
	}

	mr := multipart.NewReader(strings.NewReader(body), mparams["boundary"])
	var types []string
	var bodies []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading part: %v", err)
		}
		data, _ := io.ReadAll(part)
		types = append(types, part.Header.Get("Content-Type"))
		bodies = append(bodies, string(data))
	}

	if len(types) != 2 {
		t.Fatalf("got %d parts, want 2", len(types))
	}
	if !strings.HasPrefix(types[0], "text/cloud-config") {
		t.Errorf("first part type = %q", types[0])
	}
	if !strings.HasPrefix(bodies[0], "#cloud-config\n") {
		t.Error("first part is not a cloud-config document")
	}
	if !strings.HasPrefix(types[1], "text/x-shellscript") {
		t.Errorf("second part type = %q", types[1])
	}
	if bodies[1] != script {
		t.Errorf("script part = %q, want %q", bodies[1], script)
	}
}

func TestGenerateUserDataRequiresHostname(t *testing.T) {
	if _, err := GenerateUserData(SeedData{}); err == nil {
		t.Error("GenerateUserData() without hostname should fail")
	}
}

func TestGenerateMetaData(t *testing.T) {
	first, err := GenerateMetaData("myvm")
	if err != nil {
		t.Fatalf("GenerateMetaData() error = %v", err)
	}

	var md map[string]string
	if err := yaml.Unmarshal([]byte(first), &md); err != nil {
		t.Fatalf("meta-data is not valid YAML: %v", err)
	}
	if md["local-hostname"] != "myvm" {
		t.Errorf("local-hostname = %q", md["local-hostname"])
	}
	if md["instance-id"] == "" {
		t.Error("instance-id is empty")
	}

	// Recreating the VM must produce a new instance identity so cloud-init reruns.
	second, err := GenerateMetaData("myvm")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("instance-id should differ between provisioning runs")
	}
}

func TestGenerateMetaDataRequiresHostname(t *testing.T) {
	if _, err := GenerateMetaData(""); err == nil {
		t.Error("GenerateMetaData(\"\") should fail")
	}
}
