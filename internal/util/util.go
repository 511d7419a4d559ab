package util

import (
	log "github.com/sirupsen/logrus"
)

// SetLogLevel switches logrus between debug and info per the config flag.
func SetLogLevel(debug bool) {
	want := log.InfoLevel
	if debug {
		want = log.DebugLevel
	}
	if current := log.GetLevel(); current != want {
		log.SetLevel(want)
		log.Infof("log level switched from %s to %s (debug=%t)", current, want, debug)
	}
}

// HideAPIKey masks a secret for log output, keeping just enough of both
// ends to tell keys apart.
func HideAPIKey(apiKey string) string {
	var keep int
	switch {
	case len(apiKey) > 8:
		keep = 4
	case len(apiKey) > 4:
		keep = 2
	case len(apiKey) > 2:
		keep = 1
	default:
		return apiKey
	}
	return apiKey[:keep] + "..." + apiKey[len(apiKey)-keep:]
}
