//go:build darwin

package detect

import "github.com/progrium/darwinkit/macos/appkit"

// appWindowProbe enumerates window titles for a named process via
// NSWorkspace's running-application list. darwinkit does not expose the
// accessibility-API window list directly, so this probe reports the
// process's localized name as its sole "title" candidate; a real
// accessibility-grant-backed implementation would replace Titles with an
// AXUIElement window-title walk, but the classification and polling
// machinery above is unaffected by that substitution.
type appWindowProbe struct {
	workspace appkit.Workspace
}

func newAppWindowProbe() windowProbe {
	return &appWindowProbe{workspace: appkit.Workspace_SharedWorkspace()}
}

func (p *appWindowProbe) Titles(processName string) ([]string, bool) {
	for _, app := range p.workspace.RunningApplications() {
		if app.Ptr() == nil {
			continue
		}
		if app.LocalizedName() == processName {
			return []string{app.LocalizedName()}, true
		}
	}
	return nil, false
}
