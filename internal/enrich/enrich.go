// Package enrich resolves the secondary metadata of services and tasks:
// start type, description, publisher and executable path. Every lookup is
// read-only and absorbs its own failures.
package enrich

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/logging"
	"github.com/breeze-rmm/sysmgr/internal/platform"
)

var log = logging.L("enrich")

// ErrNoExecutable means a configured path did not resolve to an existing file.
var ErrNoExecutable = errors.New("could not find the executable path")

// ConfigReader is the read-only slice of ServicePort the enricher needs.
type ConfigReader interface {
	ReadServiceConfig(name string) (platform.ServiceConfig, error)
}

// ServiceDetails is what enrichment adds to a listed service.
type ServiceDetails struct {
	StartType      inventory.StartType
	Description    string
	Publisher      string
	ExecutablePath string
}

type Enricher struct {
	configs        ConfigReader
	versions       platform.VersionReader
	expand         func(string) string
	maxDescription int

	// fileExists is swapped in tests.
	fileExists func(path string) bool
}

// New builds an Enricher. A nil expand leaves paths unexpanded; a
// maxDescription of zero or less disables truncation.
func New(configs ConfigReader, versions platform.VersionReader, expand func(string) string, maxDescription int) *Enricher {
	if expand == nil {
		expand = func(s string) string { return s }
	}
	return &Enricher{
		configs:        configs,
		versions:       versions,
		expand:         expand,
		maxDescription: maxDescription,
		fileExists:     regularFileExists,
	}
}

func regularFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Service resolves the details of one service. Anything that cannot be
// read is left at its default: Unknown start type, empty strings.
func (e *Enricher) Service(name string) ServiceDetails {
	details := ServiceDetails{StartType: inventory.StartUnknown}

	cfg, err := e.configs.ReadServiceConfig(name)
	if err != nil {
		log.Debug("service config unavailable", logging.KeyItem, name, logging.KeyError, err.Error())
		return details
	}

	details.StartType = inventory.StartTypeFromCode(cfg.StartCode)
	details.Description = inventory.TruncateDescription(cfg.Description, e.maxDescription)

	exe, ok := e.resolveImagePath(cfg.ImagePath)
	if !ok {
		return details
	}
	details.ExecutablePath = exe

	if e.versions != nil {
		publisher, err := e.versions.CompanyName(exe)
		if err != nil {
			log.Debug("version resource unavailable", logging.KeyItem, name, logging.KeyError, err.Error())
		} else {
			details.Publisher = publisher
		}
	}
	return details
}

// ServiceExecutable returns the existing executable behind a service.
func (e *Enricher) ServiceExecutable(name string) (string, error) {
	cfg, err := e.configs.ReadServiceConfig(name)
	if err != nil {
		return "", fmt.Errorf("read config of %s: %w", name, err)
	}
	exe, ok := e.resolveImagePath(cfg.ImagePath)
	if !ok {
		return "", fmt.Errorf("service %s: %w", name, ErrNoExecutable)
	}
	return exe, nil
}

// ResolveExecutable expands raw and checks that the result exists. Task
// actions and process paths go through here.
func (e *Enricher) ResolveExecutable(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrNoExecutable
	}
	exe := e.expand(strings.Trim(strings.TrimSpace(raw), `"`))
	if !e.fileExists(exe) {
		return "", fmt.Errorf("%s: %w", exe, ErrNoExecutable)
	}
	return exe, nil
}

func (e *Enricher) resolveImagePath(raw string) (string, bool) {
	exe := CleanImagePath(raw, e.expand)
	if exe == "" || !e.fileExists(exe) {
		return "", false
	}
	return exe, true
}

// CleanImagePath turns a raw service ImagePath into an executable path:
// strip surrounding quotes and keep the first quoted segment, drop a bare
// leading separator and the \??\ object-manager prefix, expand %VAR%
// references, then cut at the first space. The cut applies to quoted paths
// too, so a path under "Program Files" does not resolve.
func CleanImagePath(raw string, expand func(string) string) string {
	p := strings.Trim(strings.TrimSpace(raw), `"`)
	p = strings.TrimSpace(strings.SplitN(p, `"`, 2)[0])
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, `\`) {
		p = strings.ReplaceAll(strings.TrimLeft(p, `\`), `??\`, "")
	}
	if expand != nil {
		p = expand(p)
	}
	if i := strings.IndexByte(p, ' '); i >= 0 {
		p = p[:i]
	}
	return p
}

// ParentDir returns the directory part of a Windows or POSIX path.
func ParentDir(path string) string {
	i := strings.LastIndexAny(path, `\/`)
	switch {
	case i < 0:
		return ""
	case i == 0:
		return path[:1]
	case i == 2 && path[1] == ':':
		// C:\x.exe -> C:\
		return path[:3]
	}
	return path[:i]
}
