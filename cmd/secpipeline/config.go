package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmerrifield20/secpipeline/internal/threat"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// loadConfig sets defaults and reads secpipeline.yaml. A missing config
// file is not an error; found reports whether one was read.
func loadConfig() (found bool, err error) {
	viper.SetConfigName("secpipeline")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("log.development", false)

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.grpc_port", 9090)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)

	viper.SetDefault("auth.token_secret", "")
	viper.SetDefault("auth.issuer", "secpipeline")

	viper.SetDefault("database.url", "")

	viper.SetDefault("delivery.kind", "none") // none | nats | kafka
	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("nats.subject", "events.raw")
	viper.SetDefault("nats.queue", "secpipeline")
	viper.SetDefault("nats.deadletter_subject", "events.deadletter")
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "security-events")
	viper.SetDefault("kafka.group_id", "secpipeline")
	viper.SetDefault("kafka.deadletter_topic", "")

	viper.SetDefault("dedupe.kind", "lru") // none | lru | redis
	viper.SetDefault("dedupe.size", 100000)
	viper.SetDefault("dedupe.ttl", "24h")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("pipeline.workers", 4)

	w := threat.DefaultWeights()
	viper.SetDefault("scoring.weights.privileged", w.Privileged)
	viper.SetDefault("scoring.weights.reputation_high", w.ReputationHigh)
	viper.SetDefault("scoring.weights.reputation_medium", w.ReputationMedium)
	viper.SetDefault("scoring.weights.anomaly", w.Anomaly)
	viper.SetDefault("scoring.weights.geo", w.Geo)
	viper.SetDefault("scoring.weights.high_reputation_above", w.HighReputationAbove)
	viper.SetDefault("scoring.weights.medium_reputation_above", w.MediumReputationAbove)
	viper.SetDefault("scoring.privileged_actions", threat.DefaultPrivilegedActions)

	viper.SetDefault("baseline.file", "")
	viper.SetDefault("baseline.default_geos", []string{"US"})

	viper.SetDefault("intel.url", "")
	viper.SetDefault("intel.api_key", "")
	viper.SetDefault("intel.timeout", "2s")
	viper.SetDefault("intel.cache_size", 10000)
	viper.SetDefault("intel.cache_ttl", "15m")
	viper.SetDefault("intel.rps", 50)

	viper.SetDefault("responder.auto_approve_threshold", 75)

	viper.SetDefault("notify.webhook_url", "")
	viper.SetDefault("notify.webhook_secret", "")
	viper.SetDefault("notify.timeout", "10s")
	viper.SetDefault("notify.email.smtp_host", "")
	viper.SetDefault("notify.email.smtp_port", 587)
	viper.SetDefault("notify.email.username", "")
	viper.SetDefault("notify.email.password", "")
	viper.SetDefault("notify.email.from", "secpipeline@localhost")
	viper.SetDefault("notify.email.to", []string{})

	viper.SetDefault("health.check_interval", "30s")
	viper.SetDefault("health.probe_timeout", "5s")
	viper.SetDefault("health.fail_threshold", 3)

	viper.SetDefault("reporter.interval", "1h")
	viper.SetDefault("reporter.check_interval", "60s")
	viper.SetDefault("reporter.window", "168h")
	viper.SetDefault("reporter.standard", "CIS")
	viper.SetDefault("reporter.version", "1.4.0")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.sample_ratio", 1.0)
	viper.SetDefault("tracing.insecure", true)
	viper.SetDefault("tracing.environment", "development")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return false, fmt.Errorf("read config: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// newLogger builds the process logger from log.development.
func newLogger() (*zap.Logger, error) {
	if viper.GetBool("log.development") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// scoringWeights reads scoring.weights.* key by key so that a partial
// section in the config file keeps the remaining defaults.
func scoringWeights() threat.Weights {
	return threat.Weights{
		Privileged:            viper.GetInt("scoring.weights.privileged"),
		ReputationHigh:        viper.GetInt("scoring.weights.reputation_high"),
		ReputationMedium:      viper.GetInt("scoring.weights.reputation_medium"),
		Anomaly:               viper.GetInt("scoring.weights.anomaly"),
		Geo:                   viper.GetInt("scoring.weights.geo"),
		HighReputationAbove:   viper.GetInt("scoring.weights.high_reputation_above"),
		MediumReputationAbove: viper.GetInt("scoring.weights.medium_reputation_above"),
	}
}
