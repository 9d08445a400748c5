//go:build darwin

package detect

import "github.com/progrium/darwinkit/macos/appkit"

// appMicProbe enumerates processes holding the audio input device via
// NSWorkspace's running-application list, cross-referenced against the
// catalog's known bundle ids. AVCaptureDevice's "in use by client" indicator
// would be the precise signal, but darwinkit does not expose that API
// directly, so this probe conservatively tracks the subset of running
// catalog apps instead and lets MeetingDetector treat a mic-capable app's
// presence as its activation signal.
//
// This is a strictly weaker signal than real mic-client enumeration: a
// catalog app that is merely running (not actually on a call) still counts
// as an "active client" here, which is indistinguishable from the
// process-set source's own signal. Restricting ActiveClients to catalog
// bundle ids at least keeps the false-positive surface bounded to known
// meeting apps rather than every running application; it does not restore
// the distinction the real API would give between "running" and "on a
// call". See DESIGN.md for the tracked limitation.
type appMicProbe struct {
	workspace appkit.Workspace
	catalog   *Catalog
}

func newAppMicProbe(catalog *Catalog) micProbe {
	return &appMicProbe{workspace: appkit.Workspace_SharedWorkspace(), catalog: catalog}
}

func (p *appMicProbe) ActiveClients() []Usage {
	apps := p.workspace.RunningApplications()
	out := make([]Usage, 0, len(apps))
	for _, app := range apps {
		if app.Ptr() == nil {
			continue
		}
		bundleID := app.BundleIdentifier()
		if bundleID == "" {
			continue
		}
		if p.catalog != nil {
			if _, ok := p.catalog.MatchBundleID(bundleID); !ok {
				continue
			}
		}
		out = append(out, Usage{BundleID: bundleID, AppName: app.LocalizedName(), PID: int(app.ProcessIdentifier())})
	}
	return out
}
