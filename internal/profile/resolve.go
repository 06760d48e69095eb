package profile

const DefaultProfileName = "main"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. AMBER_PROFILE environment variable
// 3. "main"
func Resolve(flagOverride, envValue string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if envValue != "" {
		return envValue
	}
	return DefaultProfileName
}
