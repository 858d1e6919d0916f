package cmd

import (
	"testing"

	"github.com/andresmejia3/facenote/internal/config"
	"github.com/spf13/cobra"
)

func TestApplyFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	if err := cmd.ParseFlags([]string{"--fps", "12", "--device", "file:/tmp/a.mp4"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Addr = ":9999"
	applyFlags(cmd, &cfg)

	if cfg.FPS != 12 {
		t.Errorf("fps = %d, want 12", cfg.FPS)
	}
	if cfg.Device != "file:/tmp/a.mp4" {
		t.Errorf("device = %q", cfg.Device)
	}
	// Flags left at their defaults must not clobber the environment.
	if cfg.Addr != ":9999" {
		t.Errorf("addr = %q, want the environment value", cfg.Addr)
	}
}

func TestDisplayAddr(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", "localhost:8080"},
		{"0.0.0.0:8080", "0.0.0.0:8080"},
		{"example.test:80", "example.test:80"},
	}
	for _, tt := range tests {
		if got := displayAddr(tt.addr); got != tt.want {
			t.Errorf("displayAddr(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
