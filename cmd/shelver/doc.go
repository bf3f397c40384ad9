// Command shelver runs the classification daemon and talks to it over its
// HTTP API.
//
// The daemon subcommand runs in the foreground; queue, classify, batch and
// status reach a running daemon at the configured api_bind (or --api).
// config and test-notify work without a daemon.
package main
