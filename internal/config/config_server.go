package config

// ServerConfig configures the process-level listener knobs for cmd/mira's
// serve subcommand. HTTP/WebSocket endpoints themselves are out of scope
// (spec.md §1) — this only sizes the stdin/out JSON-lines adapter and the
// Prometheus metrics listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}
