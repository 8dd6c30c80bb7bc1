// Package version carries build information stamped at link time.
//
//	go build -ldflags "-X github.com/kbukum/catalogwatch/version.Version=1.0.0"
//
// The registration manager publishes Get().Metadata() with the service
// record and the HTTP server serves Get() on /info.
package version
