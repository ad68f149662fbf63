// ABOUTME: Commented sample configuration written by `dialog-relay init`
// ABOUTME: Secrets are left as ${ENV} references for expansion at load time

package config

// Sample is a starting configuration. Secrets are read from the environment.
const Sample = `# dialog-relay configuration

server:
  http_addr: "127.0.0.1:8080"
  read_header_timeout: "10s"
  shutdown_timeout: "15s"

database:
  # Overridden by DIALOG_RELAY_DB_PATH when set.
  path: "./data/dialog-relay.db"

auth:
  # HS256 secret shared with the identity provider, at least 32 bytes.
  jwt_secret: "${DIALOG_RELAY_JWT_SECRET}"
  issuer: ""

provider:
  # Any OpenAI-compatible chat-completions endpoint.
  base_url: "https://api.openai.com/v1"
  api_key: "${OPENAI_API_KEY}"
  default_model: "gpt-4o"
  timeout: "2m"

dialog:
  title_length: 50
  persist_timeout: "5s"
  # Repeated Idempotency-Key values are rejected within this window.
  dedupe_window: "5m"

rate_limit:
  # Per user, dialog endpoints only. 0 disables.
  requests_per_second: 1
  burst: 5

logging:
  level: "info"
  format: "text"
  # file: "./logs/dialog-relay.log"
  # max_size_mb: 50
  # max_backups: 3
  # max_age_days: 28
`
