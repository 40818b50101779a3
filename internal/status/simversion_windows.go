//go:build windows

package status

import (
	"fmt"

	"golang.org/x/sys/windows/registry"
)

const simUninstallKey = `SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall\Microsoft.FlightSimulator`

// SimVersion reads the installed simulator's DisplayVersion.
func SimVersion() (string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, simUninstallKey, registry.QUERY_VALUE)
	if err != nil {
		return UnknownVersion, fmt.Errorf("opening registry key: %w", err)
	}
	defer k.Close()

	v, _, err := k.GetStringValue("DisplayVersion")
	if err != nil {
		return UnknownVersion, fmt.Errorf("reading DisplayVersion: %w", err)
	}
	return v, nil
}
