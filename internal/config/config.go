package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	MySQLDSN string

	RedisAddr     string
	RedisPoolSize int

	KafkaBrokers []string
	KafkaTopic   string

	NotifyQueueSize int
	ShutdownTimeout time.Duration
}

func Load() Config {
	return Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		MySQLDSN:        getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/storefront?parseTime=true"),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:   getenvInt("REDIS_POOL_SIZE", 100),
		KafkaBrokers:    splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:      getenv("KAFKA_TOPIC", "storefront.notifications"),
		NotifyQueueSize: getenvInt("NOTIFY_QUEUE_SIZE", 1000),
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
