package platform

// Platform identifiers as used in config.
const (
	Android = "android"
	IOS     = "ios"
	Web     = "web"
)

// Capabilities describes which permission tiers a platform has.
type Capabilities struct {
	// BackgroundTier is true when continuous reporting needs a separate
	// background-location grant.
	BackgroundTier bool

	// NotificationForService is true when a foreground service needs the
	// runtime notification permission.
	NotificationForService bool
}

// CapabilitiesFor returns the capabilities of a platform. Unknown
// platforms get the web profile (foreground only).
func CapabilitiesFor(platform string) Capabilities {
	switch platform {
	case Android:
		return Capabilities{BackgroundTier: true, NotificationForService: true}
	case IOS:
		return Capabilities{BackgroundTier: true}
	default:
		return Capabilities{}
	}
}
