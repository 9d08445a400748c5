//go:build darwin

package detect

import "github.com/progrium/darwinkit/macos/appkit"

// appProcessProbe enumerates running applications via NSWorkspace.
type appProcessProbe struct {
	workspace appkit.Workspace
}

func newAppProcessProbe() processProbe {
	return &appProcessProbe{workspace: appkit.Workspace_SharedWorkspace()}
}

func (p *appProcessProbe) RunningApps() []runningApp {
	apps := p.workspace.RunningApplications()
	out := make([]runningApp, 0, len(apps))
	for _, app := range apps {
		if app.Ptr() == nil {
			continue
		}
		out = append(out, runningApp{
			BundleID:    app.BundleIdentifier(),
			DisplayName: app.LocalizedName(),
			ProcessName: app.LocalizedName(),
		})
	}
	return out
}
