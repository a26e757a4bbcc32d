package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const starterConfig = `# conductr configuration.
# Services start in ascending tier order; a tier only starts after every
# service in the previous tier passed its health check.

mode = "development"

# Extra KEY=VALUE pairs for every child, layered over the OS environment.
# env = ["LOG_LEVEL=debug"]
# env_files = [".env"]

[log]
level = "info"   # debug, info, warn, error
format = "text"  # text (colorized) or json
# dir = "./logs" # per-service stdout/stderr files, rotated

[events]
# ndjson_path = "./events.ndjson"
# sinks = ["sqlite://./events.db"]

[store]
# dsn = "sqlite://./conductr-state.db"

[server]
enabled = true
listen = "127.0.0.1:8750"

[watch]
enabled = true
debounce = "1s"

[status]
sweep_interval = "10s"
# snapshot_path = "./status.json"

[[service]]
name = "api"
command = "./bin/api"
port = 8080
tier = 0
health_url = "http://127.0.0.1:8080/healthz"
# watch_paths = ["./api"]
# watch_exts = [".go"]

[[service]]
name = "frontend"
command = "npm run dev"
tier = 1
# env = ["API_URL=http://127.0.0.1:8080"]
`

func newInitCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := gf.ConfigPath
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}
}
