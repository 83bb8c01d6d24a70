package export

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Pandoc converts HTML pages to DOCX through the pandoc CLI.
type Pandoc struct {
	Binary string
}

// Convert pipes html through pandoc and returns the document bytes.
func (p *Pandoc) Convert(ctx context.Context, html string) ([]byte, error) {
	bin, err := exec.LookPath(p.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not on PATH", ErrDOCXDependencyMissing, p.Binary)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "--from=html", "--to=docx", "--standalone", "--output=-")
	cmd.Stdin = strings.NewReader(html)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("pandoc: %s: %w", msg, err)
		}
		return nil, fmt.Errorf("pandoc: %w", err)
	}
	return stdout.Bytes(), nil
}
