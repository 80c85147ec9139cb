//go:build !windows

package platform

import (
	"os"
	"strings"
)

type noVersionResource struct{}

func newVersionReader() VersionReader { return noVersionResource{} }

// CompanyName is always empty: version resources are a PE concept.
func (noVersionResource) CompanyName(string) (string, error) { return "", nil }

// ExpandEnv resolves %VAR% references from the process environment. Unknown
// variables and a lone % are left as written.
func ExpandEnv(s string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(s, '%')
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexByte(s[start+1:], '%')
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += start + 1
		name := s[start+1 : end]
		b.WriteString(s[:start])
		if v, ok := os.LookupEnv(name); ok && name != "" {
			b.WriteString(v)
			s = s[end+1:]
			continue
		}
		// Keep the opening % literal and retry from the closing one.
		b.WriteString(s[start:end])
		s = s[end:]
	}
}
