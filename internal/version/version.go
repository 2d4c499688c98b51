// ABOUTME: Version constants for the NetClocks daemon
// ABOUTME: Reported on the status surface and in startup logs
package version

const (
	Version      = "0.1.0"
	Product      = "netclocks"
	Manufacturer = "NetClocks Protocol"
)
