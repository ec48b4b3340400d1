package state

// Environment variables override config file values, so secrets may live in .env or unit file.
const (
	EnvDeviceId     = "TRACKER_DEVICE_ID"
	EnvKey          = "TRACKER_AES_KEY"
	EnvKeyHex       = "TRACKER_AES_KEY_HEX"
	EnvAPN          = "TRACKER_APN"
	EnvAPNUser      = "TRACKER_APN_USER"
	EnvAPNPassword  = "TRACKER_APN_PASSWORD"
	EnvCollectorURL = "TRACKER_COLLECTOR_URL"
)

// ApplyEnv overwrites fields for every non-empty variable. getenv is os.Getenv outside of tests.
// Either key variable replaces both crypto fields, so file key does not conflict with it.
func (c *Config) ApplyEnv(getenv func(string) string) []string {
	applied := make([]string, 0, 8)
	set := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
			applied = append(applied, name)
		}
	}
	set(EnvDeviceId, &c.DeviceId)
	if v := getenv(EnvKey); v != "" {
		c.Crypto.Key, c.Crypto.KeyHex = v, ""
		applied = append(applied, EnvKey)
	}
	if v := getenv(EnvKeyHex); v != "" {
		c.Crypto.Key, c.Crypto.KeyHex = "", v
		applied = append(applied, EnvKeyHex)
	}
	set(EnvAPN, &c.Modem.APN)
	set(EnvAPNUser, &c.Modem.APNUser)
	set(EnvAPNPassword, &c.Modem.APNPassword)
	set(EnvCollectorURL, &c.Collector.URL)
	return applied
}
