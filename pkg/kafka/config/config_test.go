package kafka_config

import (
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]string{"localhost:9092"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ProducerMaxAttempts != DefaultProducerMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultProducerMaxAttempts, cfg.ProducerMaxAttempts)
	}
	if cfg.DLQTopic != "" {
		t.Errorf("expected DLQ disabled by default, got %q", cfg.DLQTopic)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv(EnvKafkaProducerCompression, "zstd")
	t.Setenv(EnvKafkaDLQTopic, "lock-events-dlq")

	cfg, err := Load([]string{"b1:9092"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ProducerCompression != "zstd" {
		t.Errorf("expected zstd, got %s", cfg.ProducerCompression)
	}
	if cfg.DLQTopic != "lock-events-dlq" {
		t.Errorf("expected DLQ topic from env, got %s", cfg.DLQTopic)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no brokers", func(c *Config) { c.Brokers = nil }, "At least one Kafka broker"},
		{"empty broker", func(c *Config) { c.Brokers = []string{""} }, "Broker 0 cannot be empty"},
		{"bad compression", func(c *Config) { c.ProducerCompression = "brotli" }, "ProducerCompression"},
		{"bad acks", func(c *Config) { c.ProducerRequireAcks = 2 }, "ProducerRequireAcks"},
		{"zero attempts", func(c *Config) { c.ProducerMaxAttempts = 0 }, "ProducerMaxAttempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Brokers:              []string{"localhost:9092"},
				ProducerMaxAttempts:  DefaultProducerMaxAttempts,
				ProducerBatchTimeout: DefaultProducerBatchTimeout,
				ProducerRequireAcks:  DefaultProducerRequireAcks,
				ProducerCompression:  DefaultProducerCompression,
				ProducerWriteTimeout: DefaultProducerWriteTimeout,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
