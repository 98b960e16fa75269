// Package config loads the registry's startup configuration from flags and
// environment variables, following the teacher's config.load()/getEnv
// pattern (SPEC_FULL.md §D.5), generalized from its NATS-only options to the
// full option set spec.md §6 names.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"schemaregistry/internal/types"
)

// Config is every option spec.md §6 names, loaded once at startup.
type Config struct {
	HostName          string
	Port              int
	ClusterName       string
	MasterEligibility bool

	LogURL                    string
	CoordinatorSessionTimeout time.Duration
	WriteTimeout              time.Duration
	BootstrapTimeout          time.Duration

	DefaultCompatibilityLevel types.CompatibilityLevel

	MetricsAddress       string
	MetricsEnableDefault bool
	MetricsNumSamples    int
	MetricsSampleWindow  time.Duration

	Debug bool
}

// Load populates Config from flags, falling back to environment variables
// and then the documented defaults. Load registers its flags on the default
// flag set and calls flag.Parse itself, so any additional flags the caller
// wants parsed must be registered before Load is called.
func Load() *Config {
	c := &Config{}

	flag.StringVar(&c.HostName, "host-name", getEnv("HOST_NAME", "localhost"), "host.name: address other nodes use to reach this one")
	flag.IntVar(&c.Port, "port", getEnvInt("PORT", 8081), "port: HTTP port this node serves on and advertises as host.name's port")
	flag.StringVar(&c.ClusterName, "cluster-name", getEnv("CLUSTER_NAME", "default"), "cluster.name: coordinator namespace shared by every node in the cluster")
	flag.BoolVar(&c.MasterEligibility, "master-eligibility", getEnvBool("MASTER_ELIGIBILITY", true), "master.eligibility: whether this node may hold the master lease")

	flag.StringVar(&c.LogURL, "kafkastore-connection-url", getEnv("KAFKASTORE_CONNECTION_URL", "nats://127.0.0.1:4222"), "kafkastore.connection.url: log/coordinator broker address")
	flag.DurationVar(&c.CoordinatorSessionTimeout, "kafkastore-zk-session-timeout", getEnvDuration("KAFKASTORE_ZK_SESSION_TIMEOUT_MS", 30*time.Second), "kafkastore.zk.session.timeout.ms: ephemeral membership lease TTL")
	flag.DurationVar(&c.WriteTimeout, "kafkastore-write-timeout", getEnvDuration("KAFKASTORE_WRITE_TIMEOUT_MS", 10*time.Second), "kafkastore.write.timeout.ms: Append readback deadline")
	flag.DurationVar(&c.BootstrapTimeout, "kafkastore-bootstrap-timeout", getEnvDuration("KAFKASTORE_BOOTSTRAP_TIMEOUT_MS", 30*time.Second), "kafkastore.bootstrap.timeout.ms: Init readback deadline")

	defaultLevel := string(types.Backward)
	level := flag.String("avro-compatibility-level", getEnv("AVRO_COMPATIBILITY_LEVEL", defaultLevel), "avro.compatibility.level: default compatibility level for subjects with no explicit override")

	flag.StringVar(&c.MetricsAddress, "metrics-address", getEnv("METRICS_ADDRESS", ":9090"), "address the Prometheus /metrics server listens on")
	flag.BoolVar(&c.MetricsEnableDefault, "metrics-default-collectors", getEnvBool("METRICS_ENABLE_DEFAULT_COLLECTORS", true), "whether to register Go/process runtime collectors")
	flag.IntVar(&c.MetricsNumSamples, "metrics-num-samples", getEnvInt("METRICS_NUM_SAMPLES", 2), "metrics.num.samples: sampling count for rate-based metrics")
	flag.DurationVar(&c.MetricsSampleWindow, "metrics-sample-window", getEnvDuration("METRICS_SAMPLE_WINDOW_MS", 30*time.Second), "metrics.sample.window.ms: sampling window for rate-based metrics")

	flag.BoolVar(&c.Debug, "debug", getEnvBool("DEBUG", false), "enable debug logging")

	flag.Parse()

	c.DefaultCompatibilityLevel = types.CompatibilityLevel(*level)
	if !c.DefaultCompatibilityLevel.Valid() {
		c.DefaultCompatibilityLevel = types.Backward
	}
	return c
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
