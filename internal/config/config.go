// Package config is vclock's environment-variable-first configuration
// struct, in the shape of kysee-zk-chains' provers/types/config.go: default
// values from os.Getenv, overridable by walking a flat --flag value arg
// list. cmd/vclockd does not call NewConfig: it fills a Config directly from
// its own urfave/cli/v2 flag set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is every value one vclockd replica needs to wire itself: its own
// identity within a fixed population, the Byzantine fault tolerance bound,
// which crypto flavor and causality engine to run, and its network
// addresses.
type Config struct {
	NodeIndex      int
	Population     int
	FaultTolerance int

	CryptoFlavor string
	ClockEngine  string
	Pattern      string

	ListenAddr string
	PeerAddrs  []string
}

// NewConfig reads defaults from the environment, then applies any
// "--flag value" pairs found in args, in order, last one wins.
func NewConfig(args ...string) *Config {
	cfg := &Config{
		NodeIndex:      getEnvInt("VCLOCK_NODE_INDEX", 0),
		Population:     getEnvInt("VCLOCK_POPULATION", 4),
		FaultTolerance: getEnvInt("VCLOCK_F", 1),
		CryptoFlavor:   getEnv("VCLOCK_CRYPTO_FLAVOR", "insecure"),
		ClockEngine:    getEnv("VCLOCK_CLOCK_ENGINE", "quorum"),
		Pattern:        getEnv("VCLOCK_PATTERN", "mutex"),
		ListenAddr:     getEnv("VCLOCK_LISTEN_ADDR", "127.0.0.1:9000"),
		PeerAddrs:      splitNonEmpty(getEnv("VCLOCK_PEER_ADDRS", "")),
	}

	for i := 0; i < len(args); i++ {
		if len(args) <= i+1 {
			panic(fmt.Errorf("config: missing argument for %s", args[i]))
		}
		value := args[i+1]
		switch args[i] {
		case "--node-index":
			cfg.NodeIndex = mustAtoi(value)
		case "--population":
			cfg.Population = mustAtoi(value)
		case "--f":
			cfg.FaultTolerance = mustAtoi(value)
		case "--crypto-flavor":
			cfg.CryptoFlavor = value
		case "--clock-engine":
			cfg.ClockEngine = value
		case "--pattern":
			cfg.Pattern = value
		case "--listen-addr":
			cfg.ListenAddr = value
		case "--peer-addrs":
			cfg.PeerAddrs = splitNonEmpty(value)
		default:
			continue
		}
		i++
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		panic(fmt.Errorf("config: invalid integer %q: %w", s, err))
	}
	return n
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
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
