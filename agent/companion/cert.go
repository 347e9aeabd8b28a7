package companion

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const maxCertSize = 1 << 20

// ExchangeCert copies the root certificate the companion published at src to
// dst, after checking that it parses as one or more x509 certificates. A
// symlink at dst is removed rather than followed.
func (c *Controller) ExchangeCert(src string, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read companion root certificate: %w", err)
	}

	if err := validateCert(data); err != nil {
		return err
	}

	if info, err := os.Lstat(dst); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		c.logger.Warnf("%s is a link, removing it", dst)
		if err := os.Remove(dst); err != nil {
			return fmt.Errorf("failed to remove link %s: %w", dst, err)
		}
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|noFollow, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dst, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}

	c.logger.Infof("Exchanged companion root certificate into %s", dst)
	return nil
}

func validateCert(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("companion root certificate is empty")
	}
	if len(data) > maxCertSize {
		return fmt.Errorf("companion root certificate too large: %d bytes", len(data))
	}

	found := 0
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			return fmt.Errorf("unexpected %s block in companion root certificate", block.Type)
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return fmt.Errorf("invalid companion root certificate: %w", err)
		}
		found++
	}

	if found == 0 {
		return fmt.Errorf("no certificate found in companion root certificate")
	}
	return nil
}
