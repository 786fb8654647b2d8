// Package config centralizes environment-driven settings for the API
// server and the round engine.
package config

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Env         string // "local", "dev", "prod"
	ServiceName string

	HTTPPort    string // public REST + websocket port
	MetricsPort string // dedicated port for /metrics and /healthz

	RedisAddr    string
	KafkaBrokers string // "a:9092,b:9092"; empty disables publishing

	TopicRoundCrashed string
	TopicBetSettled   string

	// Engine pacing.
	BettingWindow   time.Duration
	InterRoundPause time.Duration

	// Engine runs the automatic round loop when true; off, rounds are
	// driven through the admin endpoints only.
	RunLoop bool
}

func Load() Config {
	return Config{
		Env:         getEnv("ENV", "local"),
		ServiceName: getEnv("SERVICE_NAME", "crashfair-api"),

		HTTPPort:    getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9095"),

		RedisAddr:    getEnv("REDIS_URL", "localhost:6379"),
		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),

		TopicRoundCrashed: getEnv("KAFKA_TOPIC_ROUND_CRASHED", "crash.round.crashed"),
		TopicBetSettled:   getEnv("KAFKA_TOPIC_BET_SETTLED", "crash.bet.settled"),

		BettingWindow:   getEnvAsDuration("BETTING_WINDOW", 5*time.Second),
		InterRoundPause: getEnvAsDuration("INTER_ROUND_PAUSE", 3*time.Second),

		RunLoop: getEnvAsBool("RUN_LOOP", true),
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
