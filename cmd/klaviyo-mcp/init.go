package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wrenfield/klaviyo-mcp/internal/defaults"
)

// runInit writes a starter configuration into dir. Existing files are
// never overwritten, so rerunning init on a customized directory is
// safe.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing klaviyo-mcp configuration in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// The config holds a private API key, so it is not group-readable.
	configPath := filepath.Join(dir, "klaviyo-mcp.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit klaviyo-mcp.yaml and set klaviyo.api_key, or export KLAVIYO_API_KEY.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist. This ensures init never overwrites user
// customizations.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, perm)
}
