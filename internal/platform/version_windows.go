//go:build windows

package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

type versionResource struct{}

func newVersionReader() VersionReader { return versionResource{} }

type langCodepage struct {
	Language uint16
	Codepage uint16
}

// CompanyName reads StringFileInfo\<lang><codepage>\CompanyName using the
// first translation the resource declares.
func (versionResource) CompanyName(path string) (string, error) {
	size, err := windows.GetFileVersionInfoSize(path, nil)
	if err != nil {
		return "", fmt.Errorf("version info size for %s: %w", path, err)
	}
	if size == 0 {
		return "", nil
	}
	info := make([]byte, size)
	if err := windows.GetFileVersionInfo(path, 0, size, unsafe.Pointer(&info[0])); err != nil {
		return "", fmt.Errorf("version info for %s: %w", path, err)
	}

	var (
		transPtr unsafe.Pointer
		transLen uint32
	)
	subBlock := `\StringFileInfo\040904b0\CompanyName`
	if err := windows.VerQueryValue(unsafe.Pointer(&info[0]), `\VarFileInfo\Translation`,
		unsafe.Pointer(&transPtr), &transLen); err == nil && transLen >= uint32(unsafe.Sizeof(langCodepage{})) {
		lc := (*langCodepage)(transPtr)
		subBlock = fmt.Sprintf(`\StringFileInfo\%04x%04x\CompanyName`, lc.Language, lc.Codepage)
	}

	var (
		valPtr unsafe.Pointer
		valLen uint32
	)
	if err := windows.VerQueryValue(unsafe.Pointer(&info[0]), subBlock, unsafe.Pointer(&valPtr), &valLen); err != nil {
		return "", nil
	}
	if valLen == 0 {
		return "", nil
	}
	return windows.UTF16PtrToString((*uint16)(valPtr)), nil
}

// ExpandEnv resolves %VAR% references the way the registry does for
// REG_EXPAND_SZ values. On failure s is returned unchanged.
func ExpandEnv(s string) string {
	expanded, err := registry.ExpandString(s)
	if err != nil {
		return s
	}
	return expanded
}
