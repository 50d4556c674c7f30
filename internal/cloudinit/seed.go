// Package cloudinit generates the NoCloud seed data used to customize a
// cloud image on first boot: a cloud-config user-data document (wrapped in
// a MIME multipart envelope when a custom script is embedded), an
// instance-identity meta-data document, and the CIDATA seed ISO.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fkooman/kvm-install-vm/internal/distro"
)

// SeedData carries everything the seed documents are derived from.
type SeedData struct {
	Hostname string
	FQDN     string
	Timezone string
	// SSHKey is the authorized public key injected into the default user.
	SSHKey string
	// Family selects the first-boot network-restart and cloud-init
	// removal commands.
	Family distro.Family
	// Script is an optional shell script embedded as a second MIME part.
	Script []byte
}

// cloudConfig is the structure marshaled into the "#cloud-config" part.
type cloudConfig struct {
	PreserveHostname  bool       `yaml:"preserve_hostname"`
	Hostname          string     `yaml:"hostname"`
	FQDN              string     `yaml:"fqdn"`
	Timezone          string     `yaml:"timezone,omitempty"`
	Users             []string   `yaml:"users"`
	SSHAuthorizedKeys []string   `yaml:"ssh_authorized_keys,omitempty"`
	RunCmd            [][]string `yaml:"runcmd,omitempty"`
}

// metaData is the instance-identity document.
type metaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// firstBootCommands maps an OS family to the commands cloud-init runs once
// provisioning is done: restart networking so the injected configuration
// takes effect, then remove cloud-init so it never reruns.
var firstBootCommands = map[distro.Family][][]string{
	distro.FamilyRHEL: {
		{"systemctl", "restart", "network"},
		{"yum", "-y", "remove", "cloud-init"},
	},
	distro.FamilyDebian: {
		{"systemctl", "restart", "networking"},
		{"apt-get", "-y", "purge", "cloud-init"},
	},
	distro.FamilySUSE: {
		{"systemctl", "restart", "network"},
		{"zypper", "-n", "remove", "cloud-init"},
	},
}

// GenerateUserData renders the user-data document. Without a script this
// is a plain "#cloud-config" document; with one it is a multipart/mixed
// envelope holding the cloud-config part and a text/x-shellscript part.
func GenerateUserData(d SeedData) (string, error) {
	if d.Hostname == "" {
		return "", fmt.Errorf("hostname is required")
	}

	cc := cloudConfig{
		PreserveHostname: false,
		Hostname:         d.Hostname,
		FQDN:             d.FQDN,
		Timezone:         d.Timezone,
		Users:            []string{"default"},
		RunCmd:           firstBootCommands[d.Family],
	}
	if d.SSHKey != "" {
		cc.SSHAuthorizedKeys = []string{d.SSHKey}
	}

	yamlBytes, err := yaml.Marshal(&cc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cloud-config: %w", err)
	}
	cloudCfg := "#cloud-config\n" + string(yamlBytes)

	if len(d.Script) == 0 {
		return cloudCfg, nil
	}

	return wrapMultipart(cloudCfg, d.Script)
}

// wrapMultipart assembles the two-part MIME document cloud-init expects
// when user-data mixes formats.
func wrapMultipart(cloudCfg string, script []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=\"%s\"\n", w.Boundary())
	fmt.Fprint(&buf, "MIME-Version: 1.0\n\n")

	ccPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":        {`text/cloud-config; charset="us-ascii"`},
		"Mime-Version":        {"1.0"},
		"Content-Disposition": {`attachment; filename="cloud-config.yaml"`},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create cloud-config part: %w", err)
	}
	if _, err := ccPart.Write([]byte(cloudCfg)); err != nil {
		return "", fmt.Errorf("failed to write cloud-config part: %w", err)
	}

	scriptPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":        {`text/x-shellscript; charset="us-ascii"`},
		"Mime-Version":        {"1.0"},
		"Content-Disposition": {`attachment; filename="user-script.sh"`},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create script part: %w", err)
	}
	if _, err := scriptPart.Write(script); err != nil {
		return "", fmt.Errorf("failed to write script part: %w", err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart document: %w", err)
	}
	return buf.String(), nil
}

// GenerateMetaData renders the meta-data document. The instance-id is a
// fresh UUID per provisioning run so that recreating a VM under the same
// name always reruns cloud-init.
func GenerateMetaData(hostname string) (string, error) {
	if hostname == "" {
		return "", fmt.Errorf("hostname is required")
	}

	md := metaData{
		InstanceID:    uuid.NewString(),
		LocalHostname: hostname,
	}
	yamlBytes, err := yaml.Marshal(&md)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data: %w", err)
	}
	return string(yamlBytes), nil
}
