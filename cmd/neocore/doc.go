// Command neocore runs the swarm dispatch service: it loads configuration,
// builds the engine with the configured Azure chat backends, and serves the
// batch, decide, and health endpoints plus a separate Prometheus listener.
//
// Usage:
//
//	neocore serve                        # start the service
//	neocore serve --config config.yaml   # with a config file
//	neocore version                      # print build information
//	neocore health                       # probe a running instance
package main
