// Package config handles configuration loading for tavern-bridge.
//
// Configuration is a TOML file with ${VAR} environment variable expansion:
//
//	[matrix]
//	homeserver = "https://matrix.example.org"
//	user_id = "@tavern:example.org"
//	access_token = "${TAVERN_ACCESS_TOKEN}"
//
//	[companion]
//	listen_addr = "localhost:8080"
//
//	[bridge]
//	allowed_rooms = ["!abc:example.org"]
//	command_prefix = "!"
//	freshness_window = "10s"
//	ledger_path = "/var/lib/tavern/ledger.json"
//
//	[logging]
//	level = "info"
//
// Load applies defaults before validating: the companion listener defaults
// to localhost:8080, the command prefix to "!", and the freshness window to
// ten seconds. Matrix credentials are required.
package config
