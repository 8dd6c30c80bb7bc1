// Package component defines the lifecycle interface shared by the
// discovery watcher, the registration manager and the HTTP server.
//
// Components are registered with a Registry (usually through the bootstrap
// package), started in registration order and stopped in reverse.
package component
