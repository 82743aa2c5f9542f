package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

// WriteConfigFile renders config using the template and writes it to
// configFilePath. This function is called by cmd/bookchaind/commands/init.go.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by the path,
// in the default toml template and does not mangle the path or filename at
// all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	return os.WriteFile(path, buffer.Bytes(), 0644)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/bookchain/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.bookchain" by default, but could be changed via $BCHOME env variable
# or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# The fully qualified domain name this node serves rooms under. It is
# recorded on the ledger as the room host and reported to guests.
host = "{{ .BaseConfig.Host }}"

# Output level for logging, including package level options
log_level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log_format = "{{ .BaseConfig.LogFormat }}"

#######################################################
###       RPC Server Configuration Options          ###
#######################################################
[rpc]

# TCP or UNIX socket address for the RPC server to listen on
laddr = "{{ .RPC.ListenAddress }}"

# A list of origins a cross-domain request can be executed from
# Default value '[]' disables cors support
# Use '["*"]' to allow any origin
cors_allowed_origins = [{{ range .RPC.CORSAllowedOrigins }}{{ printf "%q, " . }}{{end}}]

# A list of methods the client is allowed to use with cross-domain requests
cors_allowed_methods = [{{ range .RPC.CORSAllowedMethods }}{{ printf "%q, " . }}{{end}}]

# A list of non simple headers the client is allowed to use with cross-domain
# requests
cors_allowed_headers = [{{ range .RPC.CORSAllowedHeaders }}{{ printf "%q, " . }}{{end}}]

# How long to wait for a websocket negotiation message before the connection
# is dropped. 0 means block indefinitely.
ws_read_wait = "{{ .RPC.WebSocketReadWait }}"

# Time allowed to write a message to a negotiation websocket.
ws_write_wait = "{{ .RPC.WebSocketWriteWait }}"

#######################################################
###         Ledger Configuration Options            ###
#######################################################
[ledger]

# Address of the endorsing peer (host:port).
peer_laddr = "{{ .Ledger.PeerAddress }}"

# Address of the ordering service (host:port).
orderer_laddr = "{{ .Ledger.OrdererAddress }}"

# Address of the commit-event hub (host:port).
event_hub_laddr = "{{ .Ledger.EventHubAddress }}"

# Channel the chaincodes are deployed on.
channel = "{{ .Ledger.Channel }}"

# Name of the enrolled network identity to act as.
identity = "{{ .Ledger.Identity }}"

# How long an invoke waits for the commit event before giving up.
commit_timeout = "{{ .Ledger.CommitTimeout }}"

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# prometheus_listen_addr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections.
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace.
namespace = "{{ .Instrumentation.Namespace }}"
`
