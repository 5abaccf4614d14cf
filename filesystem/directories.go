// Package filesystem resolves paths given on the command line or in config
// files.
package filesystem

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// UserHomeDirectory returns the home directory of the current user, or an
// empty string if it is unknown.
func UserHomeDirectory() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// CanonicalPath replaces a leading ~ with the home directory, expands
// environment variables and cleans the result. Empty paths stay empty.
func CanonicalPath(p string) string {
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~\\") {
		if home := UserHomeDirectory(); home != "" {
			p = home + p[1:]
		}
	}
	return filepath.Clean(os.ExpandEnv(p))
}
