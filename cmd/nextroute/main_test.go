package main

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	rerrors "github.com/oreillyross/next.js/internal/errors"
)

func TestInvalidArgumentsAreReported(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "next.config.json")
	writeFile(t, file, "{}")

	tests := []struct {
		name string
		err  error
	}{
		{"missing dir", (&rootOptions{dir: filepath.Join(dir, "missing")}).validate()},
		{"dir is a file", (&rootOptions{dir: file}).validate()},
		{"positional argument", noArgs(&cobra.Command{Use: "start"}, []string{"./site"})},
		{"negative port", (&serveFlags{port: -1}).validate()},
		{"port too large", (&serveFlags{port: 70000}).validate()},
		{"negative debounce", runDev(&rootOptions{dir: dir}, &serveFlags{}, -time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var re *rerrors.Error
			if !errors.As(tt.err, &re) || re.Code != "R060" {
				t.Errorf("error = %v, want R060", tt.err)
			}
		})
	}

	if err := (&rootOptions{dir: dir}).validate(); err != nil {
		t.Errorf("validate(%s) error: %v", dir, err)
	}
	if err := noArgs(&cobra.Command{Use: "start"}, nil); err != nil {
		t.Errorf("noArgs error: %v", err)
	}
}
