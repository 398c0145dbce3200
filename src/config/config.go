package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

// Config is the fully resolved server configuration.
type Config struct {
	Debug   bool
	Profile Profile

	RedisURL  string
	Listen    string
	Prefix    string
	TTL       time.Duration
	Channel   string
	Keyevents bool
	Plugin    string
	QueueSize int

	BackendSecret string
	AllowOrigins  []string

	BoardURL  string
	InviteURL string
	MySQLDSN  string

	Discord Discord
}

// Discord configures the optional Discord adapter.
type Discord struct {
	Token   string
	Master  string
	Channel string
}

// Enabled reports whether a bot token is configured.
func (d Discord) Enabled() bool { return d.Token != "" }

// Flags returns the server flags. Every flag can also be set from the
// environment.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "debug", EnvVars: []string{"DEBUG"}},
		&cli.StringFlag{Name: "env", Value: "production", EnvVars: []string{"BOARD_ENV"}},
		&cli.StringFlag{Name: "redis-url", Required: true, EnvVars: []string{"REDIS_URL"}},
		&cli.StringFlag{Name: "listen", Value: ":8000", EnvVars: []string{"BOARD_LISTEN", "PORT"}},
		&cli.StringFlag{Name: "prefix", Value: "room", EnvVars: []string{"BOARD_PREFIX"}},
		&cli.IntFlag{Name: "expire-sec", Usage: "room lifetime in seconds (defaults per environment)", EnvVars: []string{"BOARD_EXPIRE_SEC"}},
		&cli.StringFlag{Name: "channel", Value: "newroom", EnvVars: []string{"BOARD_CHANNEL"}},
		&cli.BoolFlag{Name: "keyevents", Usage: "use redis keyspace notifications for deletions", EnvVars: []string{"BOARD_KEYEVENTS"}},
		&cli.StringFlag{Name: "plugin", Value: "example", EnvVars: []string{"BOARD_PLUGIN"}},
		&cli.IntFlag{Name: "queue-size", Value: 256, Usage: "events buffered per websocket subscriber before it is dropped", EnvVars: []string{"BOARD_QUEUE_SIZE"}},
		&cli.StringFlag{Name: "backend-secret", Usage: "enables POST /party when set", EnvVars: []string{"BACKEND_SECRET"}},
		&cli.StringFlag{Name: "allow-origin", Value: "*", EnvVars: []string{"BOARD_ALLOW_ORIGINS"}},
		&cli.StringFlag{Name: "discord-token", EnvVars: []string{"DISCORD_TOKEN"}},
		&cli.StringFlag{Name: "discord-master", EnvVars: []string{"DISCORD_MASTER"}},
		&cli.StringFlag{Name: "discord-channel", Value: "multi-rooms", EnvVars: []string{"DISCORD_CHANNEL_NAME"}},
		&cli.StringFlag{Name: "board-url", EnvVars: []string{"BOARD_URL"}},
		&cli.StringFlag{Name: "invite-url", EnvVars: []string{"DISCORD_INVITE_URL"}},
		&cli.StringFlag{Name: "mysql-dsn", EnvVars: []string{"MYSQL_DSN"}},
	}
}

// FromCLI resolves flags into a Config. An explicit --expire-sec wins over the
// profile TTL.
func FromCLI(cctx *cli.Context) (Config, error) {
	profile, err := LookupProfile(cctx.String("env"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Debug:         cctx.Bool("debug"),
		Profile:       profile,
		RedisURL:      cctx.String("redis-url"),
		Listen:        listenAddr(cctx.String("listen")),
		Prefix:        cctx.String("prefix"),
		TTL:           profile.TTL,
		Channel:       cctx.String("channel"),
		Keyevents:     cctx.Bool("keyevents"),
		Plugin:        cctx.String("plugin"),
		QueueSize:     cctx.Int("queue-size"),
		BackendSecret: cctx.String("backend-secret"),
		AllowOrigins:  parseCSV(cctx.String("allow-origin")),
		BoardURL:      cctx.String("board-url"),
		InviteURL:     cctx.String("invite-url"),
		MySQLDSN:      cctx.String("mysql-dsn"),
		Discord: Discord{
			Token:   cctx.String("discord-token"),
			Master:  cctx.String("discord-master"),
			Channel: cctx.String("discord-channel"),
		},
	}
	if cctx.IsSet("expire-sec") {
		if err := cfg.setTTL(strconv.Itoa(cctx.Int("expire-sec"))); err != nil {
			return Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks the values that have no usable fallback.
func (c Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("redis url is required")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("expire seconds must be positive, got %v", c.TTL)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	if strings.TrimSpace(c.Prefix) == "" {
		return fmt.Errorf("key prefix must not be empty")
	}
	if strings.TrimSpace(c.Channel) == "" {
		return fmt.Errorf("channel must not be empty")
	}
	return nil
}

func (c *Config) setTTL(raw string) error {
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs <= 0 {
		return fmt.Errorf("invalid expire seconds %q", raw)
	}
	c.TTL = time.Duration(secs) * time.Second
	return nil
}

// listenAddr accepts a bare port as set by most hosting platforms.
func listenAddr(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ":8000"
	}
	if _, err := strconv.Atoi(v); err == nil {
		return ":" + v
	}
	return v
}

func parseCSV(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBoolDefault(raw string, def bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return def
}
