package detect

import "strings"

// App describes one entry in the static meeting-app catalog.
type App struct {
	ID            string
	DisplayName   string
	BundleID      string // may be empty for process-name-only matches
	ProcessName   string
	BrowserBased  bool
}

// zoomBundlePrefix matches the whole Zoom family (main app, CptHost helper).
const zoomBundlePrefix = "us.zoom"

// defaultCatalog is the fixed set of well-known meeting apps enabled by
// default.
var defaultCatalog = []App{
	{ID: "zoom", DisplayName: "Zoom", BundleID: "us.zoom.xos", ProcessName: "zoom.us"},
	{ID: "teams", DisplayName: "Teams", BundleID: "com.microsoft.teams2", ProcessName: "Teams"},
	{ID: "meet", DisplayName: "Google Meet", ProcessName: "", BrowserBased: true},
	{ID: "slack", DisplayName: "Slack", BundleID: "com.tinyspeck.slackmacgap", ProcessName: "Slack"},
	{ID: "discord", DisplayName: "Discord", BundleID: "com.hnc.Discord", ProcessName: "Discord"},
}

// browserBundlePrefixes identifies a browser (and its helper processes) for
// microphone-matching purposes. Bundle ids that start with one of these
// prefixes collapse to the prefix itself as the "recording bundle id".
var browserBundlePrefixes = []string{
	"com.google.Chrome",
	"com.apple.Safari",
	"com.microsoft.edgemac",
	"org.mozilla.firefox",
	"com.brave.Browser",
}

// Catalog resolves running processes, bundle ids, and window titles against
// the default catalog plus a caller-supplied set of custom apps.
type Catalog struct {
	entries         []App
	custom          map[string]App // keyed by bundle id
	browserFragments []string      // lowercase display-name fragments, from browser_apps config
}

// NewCatalog builds a Catalog restricted to the given enabled app ids (nil or
// empty means "all default entries enabled").
func NewCatalog(enabledIDs map[string]bool) *Catalog {
	c := &Catalog{custom: make(map[string]App)}
	for _, a := range defaultCatalog {
		if len(enabledIDs) == 0 || enabledIDs[a.ID] {
			c.entries = append(c.entries, a)
		}
	}
	return c
}

// AddCustomApp registers a user-extensible catalog entry keyed by bundle id.
func (c *Catalog) AddCustomApp(a App) {
	c.custom[a.BundleID] = a
}

// MatchBundleID matches a bundle id against the full catalog: exact bundle
// id, Zoom-family prefix, then custom apps. Callers that only have a bundle
// id to go on (mic-signal bundle ids carry no process/display name) use
// this combined form; callers that can also try the substring fallback
// between the prefix and custom tiers use MatchBundleIDPrefix,
// MatchProcessName, and MatchCustomApp directly, in that order.
func (c *Catalog) MatchBundleID(bundleID string) (App, bool) {
	if app, ok := c.MatchBundleIDPrefix(bundleID); ok {
		return app, true
	}
	return c.MatchCustomApp(bundleID)
}

// MatchBundleIDPrefix implements rules 1-2: exact bundle id, then Zoom-family
// prefix. It excludes custom-app matching, which is rule 4 and must be tried
// after MatchProcessName's substring fallback (rule 3).
func (c *Catalog) MatchBundleIDPrefix(bundleID string) (App, bool) {
	if bundleID == "" {
		return App{}, false
	}
	for _, a := range c.entries {
		if a.BundleID != "" && a.BundleID == bundleID {
			return a, true
		}
	}
	if strings.HasPrefix(bundleID, zoomBundlePrefix) {
		if a, ok := c.findByID("zoom"); ok {
			return a, true
		}
	}
	return App{}, false
}

// MatchCustomApp implements rule 4: a user-registered custom app, keyed by
// bundle id. Tried last, after MatchProcessName's substring fallback.
func (c *Catalog) MatchCustomApp(bundleID string) (App, bool) {
	if bundleID == "" {
		return App{}, false
	}
	a, ok := c.custom[bundleID]
	return a, ok
}

// MatchProcessName implements the case-insensitive substring fallback,
// skipping Zoom (already handled by bundle-id/prefix matching to avoid
// false positives from generic substrings).
func (c *Catalog) MatchProcessName(processName, displayName string) (App, bool) {
	needleProcess := strings.ToLower(processName)
	needleDisplay := strings.ToLower(displayName)
	for _, a := range c.entries {
		if a.ID == "zoom" {
			continue
		}
		if a.ProcessName != "" && (strings.Contains(needleProcess, strings.ToLower(a.ProcessName)) ||
			strings.Contains(needleDisplay, strings.ToLower(a.ProcessName))) {
			return a, true
		}
		if strings.Contains(needleDisplay, strings.ToLower(a.DisplayName)) {
			return a, true
		}
	}
	return App{}, false
}

// IsBrowserPrefix reports whether bundleID begins with a known browser
// prefix, and returns the prefix (the "recording bundle id" to use).
func IsBrowserPrefix(bundleID string) (string, bool) {
	for _, p := range browserBundlePrefixes {
		if strings.HasPrefix(bundleID, p) {
			return p, true
		}
	}
	return "", false
}

// ResolveRecordingBundleID collapses a browser-prefixed bundle id to its
// prefix so all helper processes of one browser resolve to the same app.
func ResolveRecordingBundleID(bundleID string) string {
	if prefix, ok := IsBrowserPrefix(bundleID); ok {
		return prefix
	}
	return bundleID
}

func (c *Catalog) findByID(id string) (App, bool) {
	for _, a := range c.entries {
		if a.ID == id {
			return a, true
		}
	}
	return App{}, false
}

// AddBrowserNameFragment registers a display-name fragment used to recognise
// a browser window/process by name when no bundle-id prefix match applies.
func (c *Catalog) AddBrowserNameFragment(fragment string) {
	if fragment == "" {
		return
	}
	c.browserFragments = append(c.browserFragments, strings.ToLower(fragment))
}

// MatchesBrowserByDisplayName reports whether displayName contains any
// registered browser_apps fragment.
func (c *Catalog) MatchesBrowserByDisplayName(displayName string) bool {
	low := strings.ToLower(displayName)
	for _, frag := range c.browserFragments {
		if strings.Contains(low, frag) {
			return true
		}
	}
	return false
}

// Entries returns every enabled catalog entry (defaults + custom).
func (c *Catalog) Entries() []App {
	out := make([]App, 0, len(c.entries)+len(c.custom))
	out = append(out, c.entries...)
	for _, a := range c.custom {
		out = append(out, a)
	}
	return out
}
