package config

import (
	"os"
	"strings"
)

func expandHome(p string) string {
	if !strings.HasPrefix(p, "$HOME") && !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	p = strings.TrimPrefix(p, "$HOME")
	p = strings.TrimPrefix(p, "~")
	return home + p
}
