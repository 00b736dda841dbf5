package config

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerAddr          = "localhost:8000"
	DefaultDatabaseDSN         = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
	DefaultSigningKey          = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	DefaultKafkaTopic          = "trader-chat.events"
	DefaultMinCompletedSignals = 5
	DefaultLeaderboardTopN     = 10
	DefaultHistoryLimit        = 200
)

type Config struct {
	DatabaseDSN       string
	ServerAddr        string
	SigningKey        []byte
	AllowedOrigins    []string
	AdminPasswordHash string
	LogFile           string
	RedisAddr         string
	KafkaBrokers      []string
	KafkaTopic        string

	MinCompletedSignals int
	LeaderboardTopN     int
	HistoryLimit        int

	// Migrate applies pending schema migrations at startup.
	Migrate bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:         databaseDSN,
		ServerAddr:          serverAddr,
		SigningKey:          signingKey,
		AllowedOrigins:      allowedOrigins,
		KafkaTopic:          DefaultKafkaTopic,
		MinCompletedSignals: DefaultMinCompletedSignals,
		LeaderboardTopN:     DefaultLeaderboardTopN,
		HistoryLimit:        DefaultHistoryLimit,
	}, nil
}

// Values holds raw settings before validation. It is also the schema of the
// YAML config file.
type Values struct {
	ServerAddr          string   `yaml:"server_addr"`
	DatabaseDSN         string   `yaml:"database_dsn"`
	SigningKey          string   `yaml:"signing_key"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	AdminPasswordHash   string   `yaml:"admin_password_hash"`
	LogFile             string   `yaml:"log_file"`
	RedisAddr           string   `yaml:"redis_addr"`
	KafkaBrokers        []string `yaml:"kafka_brokers"`
	KafkaTopic          string   `yaml:"kafka_topic"`
	MinCompletedSignals int      `yaml:"min_completed_signals"`
	LeaderboardTopN     int      `yaml:"leaderboard_top_n"`
	HistoryLimit        int      `yaml:"history_limit"`
}

func Defaults() Values {
	return Values{
		ServerAddr:          DefaultServerAddr,
		DatabaseDSN:         DefaultDatabaseDSN,
		SigningKey:          DefaultSigningKey,
		KafkaTopic:          DefaultKafkaTopic,
		MinCompletedSignals: DefaultMinCompletedSignals,
		LeaderboardTopN:     DefaultLeaderboardTopN,
		HistoryLimit:        DefaultHistoryLimit,
	}
}

// setting binds one Values field to its flag and environment variable.
type setting struct {
	flag  string
	env   string
	usage string
	set   func(v *Values, s string) error
}

var settings = []setting{
	{"addr", "TRADER_CHAT_ADDR", "server address", func(v *Values, s string) error {
		v.ServerAddr = s
		return nil
	}},
	{"dsn", "TRADER_CHAT_DSN", "database connection string", func(v *Values, s string) error {
		v.DatabaseDSN = s
		return nil
	}},
	{"signing-key", "TRADER_CHAT_SIGNING_KEY", "base64 encoded signing key", func(v *Values, s string) error {
		v.SigningKey = s
		return nil
	}},
	{"allowed-origins", "TRADER_CHAT_ALLOWED_ORIGINS", "comma-separated list of allowed origins for CORS", func(v *Values, s string) error {
		v.AllowedOrigins = splitList(s)
		return nil
	}},
	{"admin-password-hash", "TRADER_CHAT_ADMIN_PASSWORD_HASH", "bcrypt hash of the admin password", func(v *Values, s string) error {
		v.AdminPasswordHash = s
		return nil
	}},
	{"log-file", "TRADER_CHAT_LOG_FILE", "also write logs to this rotated file", func(v *Values, s string) error {
		v.LogFile = s
		return nil
	}},
	{"redis-addr", "TRADER_CHAT_REDIS_ADDR", "redis address for the leaderboard cache", func(v *Values, s string) error {
		v.RedisAddr = s
		return nil
	}},
	{"kafka-brokers", "TRADER_CHAT_KAFKA_BROKERS", "comma-separated kafka brokers for event export", func(v *Values, s string) error {
		v.KafkaBrokers = splitList(s)
		return nil
	}},
	{"kafka-topic", "TRADER_CHAT_KAFKA_TOPIC", "kafka topic for event export", func(v *Values, s string) error {
		v.KafkaTopic = s
		return nil
	}},
	{"min-completed-signals", "TRADER_CHAT_MIN_COMPLETED_SIGNALS", "closed signals needed to appear on the leaderboard", func(v *Values, s string) error {
		return setInt(&v.MinCompletedSignals, s)
	}},
	{"leaderboard-top", "TRADER_CHAT_LEADERBOARD_TOP_N", "entries returned by get_leaderboard", func(v *Values, s string) error {
		return setInt(&v.LeaderboardTopN, s)
	}},
	{"history-limit", "TRADER_CHAT_HISTORY_LIMIT", "messages sent on join", func(v *Values, s string) error {
		return setInt(&v.HistoryLimit, s)
	}},
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setInt(dst *int, s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

// MergeYAML overlays the non-zero fields of the YAML file at path.
func (v *Values) MergeYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file Values
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if file.ServerAddr != "" {
		v.ServerAddr = file.ServerAddr
	}
	if file.DatabaseDSN != "" {
		v.DatabaseDSN = file.DatabaseDSN
	}
	if file.SigningKey != "" {
		v.SigningKey = file.SigningKey
	}
	if len(file.AllowedOrigins) > 0 {
		v.AllowedOrigins = file.AllowedOrigins
	}
	if file.AdminPasswordHash != "" {
		v.AdminPasswordHash = file.AdminPasswordHash
	}
	if file.LogFile != "" {
		v.LogFile = file.LogFile
	}
	if file.RedisAddr != "" {
		v.RedisAddr = file.RedisAddr
	}
	if len(file.KafkaBrokers) > 0 {
		v.KafkaBrokers = file.KafkaBrokers
	}
	if file.KafkaTopic != "" {
		v.KafkaTopic = file.KafkaTopic
	}
	if file.MinCompletedSignals != 0 {
		v.MinCompletedSignals = file.MinCompletedSignals
	}
	if file.LeaderboardTopN != 0 {
		v.LeaderboardTopN = file.LeaderboardTopN
	}
	if file.HistoryLimit != 0 {
		v.HistoryLimit = file.HistoryLimit
	}
	return nil
}

// MergeEnv overlays every setting whose environment variable is present.
func (v *Values) MergeEnv(lookup func(string) (string, bool)) error {
	for _, s := range settings {
		val, ok := lookup(s.env)
		if !ok {
			continue
		}
		if err := s.set(v, val); err != nil {
			return fmt.Errorf("%s: %w", s.env, err)
		}
	}
	return nil
}

// Build validates the values and produces a Config.
func (v Values) Build() (*Config, error) {
	cfg, err := NewConfig(v.ServerAddr, v.DatabaseDSN, v.SigningKey, v.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	if v.MinCompletedSignals < 1 {
		return nil, fmt.Errorf("min completed signals must be at least 1")
	}
	if v.LeaderboardTopN < 1 {
		return nil, fmt.Errorf("leaderboard size must be at least 1")
	}
	if v.HistoryLimit < 1 {
		return nil, fmt.Errorf("history limit must be at least 1")
	}
	if len(v.KafkaBrokers) > 0 && v.KafkaTopic == "" {
		return nil, fmt.Errorf("kafka topic cannot be empty when brokers are set")
	}

	cfg.AdminPasswordHash = v.AdminPasswordHash
	cfg.LogFile = v.LogFile
	cfg.RedisAddr = v.RedisAddr
	cfg.KafkaBrokers = v.KafkaBrokers
	cfg.KafkaTopic = v.KafkaTopic
	cfg.MinCompletedSignals = v.MinCompletedSignals
	cfg.LeaderboardTopN = v.LeaderboardTopN
	cfg.HistoryLimit = v.HistoryLimit
	return cfg, nil
}

// Load builds the configuration from command line args. Flags that were set
// explicitly win over the environment, the environment wins over the YAML
// file named by -config, and that file wins over the defaults. Variables
// from the -env-file are used only when absent from the real environment.
func Load(name string, args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fset.String("config", "", "path to a YAML config file")
	envFile := fset.String("env-file", ".env", "dotenv file with TRADER_CHAT_* variables")
	migrate := fset.Bool("migrate", false, "apply database migrations at startup")

	flagValues := make(map[string]*string, len(settings))
	for _, s := range settings {
		flagValues[s.flag] = fset.String(s.flag, "", fmt.Sprintf("%s (env %s)", s.usage, s.env))
	}

	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	v := Defaults()
	if *configPath != "" {
		if err := v.MergeYAML(*configPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}

	dotenv := map[string]string{}
	if *envFile != "" {
		m, err := godotenv.Read(*envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("env file: %w", err)
		}
		if m != nil {
			dotenv = m
		}
	}

	err := v.MergeEnv(func(key string) (string, bool) {
		if val, ok := lookupEnv(key); ok {
			return val, true
		}
		val, ok := dotenv[key]
		return val, ok
	})
	if err != nil {
		return nil, err
	}

	bySetting := make(map[string]setting, len(settings))
	for _, s := range settings {
		bySetting[s.flag] = s
	}
	var flagErr error
	fset.Visit(func(f *flag.Flag) {
		s, ok := bySetting[f.Name]
		if !ok || flagErr != nil {
			return
		}
		if err := s.set(&v, *flagValues[f.Name]); err != nil {
			flagErr = fmt.Errorf("-%s: %w", f.Name, err)
		}
	})
	if flagErr != nil {
		return nil, flagErr
	}

	cfg, err := v.Build()
	if err != nil {
		return nil, err
	}
	cfg.Migrate = *migrate
	return cfg, nil
}
