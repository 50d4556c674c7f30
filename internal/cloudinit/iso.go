package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"
)

// GenerateISO masters the seed documents into an ISO9660 image with the
// CIDATA volume label the NoCloud datasource requires. The image is
// returned in memory, ready to be written into the VM working directory.
func GenerateISO(userData, metaData string) ([]byte, error) {
	if userData == "" {
		return nil, fmt.Errorf("user-data cannot be empty")
	}
	if metaData == "" {
		return nil, fmt.Errorf("meta-data cannot be empty")
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() { _ = writer.Cleanup() }()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}
	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	var buf bytes.Buffer
	// The volume identifier must be uppercase CIDATA per the NoCloud spec.
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}
