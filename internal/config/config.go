// Package config loads and holds the process-wide configuration snapshot:
// per-(network, token) pair enablement and explorer credentials, the
// adaptive-schedule and confirmation tunables, webhook delivery settings,
// and the admin secret. Loading is viper-backed (flag/env/file layering
// grounded on the teacher's own go.mod trio of spf13/viper, spf13/pflag,
// and spf13/cast); the loaded value is handed out as an immutable snapshot
// behind an atomic.Pointer so long-lived tasks can safely read a stale
// snapshot mid-cycle while a reload swaps in a new one (spec.md §9's
// "snapshot-swap, not in-place mutation").
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
)

// ExplorerConfig is one chain family's explorer-adapter credentials.
type ExplorerConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	// TokenContracts maps a supported stablecoin to its on-chain contract
	// address for this network; evmscan/tronscan adapters need this to
	// build their ContractOf lookup.
	TokenContracts map[domain.Token]string
}

// ContractOf returns a lookup closure suitable for evmscan.Config.ContractOf
// / tronscan.Config.ContractOf.
func (e ExplorerConfig) ContractOf() func(domain.Token) (string, bool) {
	contracts := e.TokenContracts
	return func(t domain.Token) (string, bool) {
		addr, ok := contracts[t]
		return addr, ok
	}
}

// PairConfig is one enabled (network, token) watch target.
type PairConfig struct {
	Pair           domain.Pair
	MerchantWallet string // the single wallet_address this pair's deposits watch
	Enabled        bool
}

// Config is one immutable configuration snapshot.
type Config struct {
	DatabaseURL string

	Pairs    []PairConfig
	Explorer map[domain.Network]ExplorerConfig

	// OrderTTL is spec.md §4.4's order_ttl, default 30m.
	OrderTTL time.Duration

	// ConfirmationsEVM/ConfirmationsTron are spec.md §4.3's K, defaults
	// 12 and 20.
	ConfirmationsEVM  int
	ConfirmationsTron int
	// ConfirmationWindow is spec.md §4.3's Δ, default 1h.
	ConfirmationWindow time.Duration

	Pooling PoolingConfig
	Webhook WebhookConfig

	// RiskFilterExpression is an optional go-bexpr boolean expression
	// gating UnknownPayment webhooks (internal/matcher.RiskFilter). Empty
	// disables filtering.
	RiskFilterExpression string

	// AdminSecretHash holds the admin_secret value exactly as Load read
	// it. Load does not hash it; it is the Argon2id-encoded form only if
	// the caller ran EnsureHashedSecret and fed the result back in.
	AdminSecretHash string
}

// PoolingConfig mirrors pooling.Schedule's tunables plus the idle period
// name spec.md §4.2 gives it, kept distinct so internal/pooling doesn't
// need to import internal/config.
type PoolingConfig struct {
	BaseIdle   time.Duration
	MinPeriod  time.Duration
	BaseActive time.Duration
}

// WebhookConfig mirrors webhook.Config's tunables, again kept distinct so
// internal/webhook doesn't need to import internal/config.
type WebhookConfig struct {
	PollInterval             time.Duration
	BatchLimit               int
	HTTPTimeout              time.Duration
	Secret                   string
	UnknownPaymentWebhookURL string
}

// Holder is the atomically-swappable snapshot reference spec.md §9
// describes: "the config snapshot is held by an atomically swappable
// shared reference; reloaders publish a new snapshot and existing tasks
// observe it on their next cycle."
type Holder struct {
	ptr atomic.Pointer[Config]
}

func NewHolder(initial *Config) *Holder {
	h := &Holder{}
	h.ptr.Store(initial)
	return h
}

// Load returns the currently active snapshot. Callers must not mutate it;
// treat it as read-only and re-call Load at the next safe point to
// observe a later reload.
func (h *Holder) Load() *Config {
	return h.ptr.Load()
}

// Swap publishes a new snapshot, replacing whatever was active.
func (h *Holder) Swap(next *Config) {
	h.ptr.Store(next)
}

// Load reads configuration from path (a TOML/YAML/JSON file, sniffed by
// extension, per viper convention), layering in DATABASE_URL from the
// environment and any flags already bound to fs, and returns a fully
// populated Config. It does not hash the admin secret — call
// EnsureHashedSecret on the raw file value first and feed the rewritten
// value back in via fs or the environment before calling Load, matching
// spec.md's "handle in the config collaborator, not the core."
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("OCRCH")
	v.AutomaticEnv()
	// DATABASE_URL is read under its own name, without the OCRCH_ prefix.
	if err := v.BindEnv("database_url", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("config: bind DATABASE_URL: %w", err)
	}
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	dbURL := v.GetString("database_url")
	if dbURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL:        dbURL,
		Explorer:           map[domain.Network]ExplorerConfig{},
		OrderTTL:           v.GetDuration("order_ttl"),
		ConfirmationsEVM:   v.GetInt("confirmations_evm"),
		ConfirmationsTron:  v.GetInt("confirmations_tron"),
		ConfirmationWindow: v.GetDuration("confirmation_window"),
		Pooling: PoolingConfig{
			BaseIdle:   v.GetDuration("pooling.base_idle"),
			MinPeriod:  v.GetDuration("pooling.min_period"),
			BaseActive: v.GetDuration("pooling.base_active"),
		},
		Webhook: WebhookConfig{
			PollInterval:             v.GetDuration("webhook.poll_interval"),
			BatchLimit:               v.GetInt("webhook.batch_limit"),
			HTTPTimeout:              v.GetDuration("webhook.http_timeout"),
			Secret:                   v.GetString("webhook.secret"),
			UnknownPaymentWebhookURL: v.GetString("webhook.unknown_payment_url"),
		},
		AdminSecretHash:      v.GetString("admin_secret"),
		RiskFilterExpression: v.GetString("risk_filter_expression"),
	}
	applyDefaults(cfg)

	pairs, err := decodePairs(v.Get("pairs"))
	if err != nil {
		return nil, fmt.Errorf("config: decode pairs: %w", err)
	}
	cfg.Pairs = pairs

	explorers := v.GetStringMap("explorer")
	for network := range explorers {
		key := fmt.Sprintf("explorer.%s", network)
		contracts := map[domain.Token]string{}
		for token, addr := range v.GetStringMapString(key + ".contracts") {
			contracts[domain.Token(token)] = addr
		}
		cfg.Explorer[domain.Network(network)] = ExplorerConfig{
			BaseURL:           v.GetString(key + ".base_url"),
			APIKey:            v.GetString(key + ".api_key"),
			RequestsPerSecond: v.GetFloat64(key + ".requests_per_second"),
			TokenContracts:    contracts,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = 30 * time.Minute
	}
	if cfg.ConfirmationsEVM <= 0 {
		cfg.ConfirmationsEVM = 12
	}
	if cfg.ConfirmationsTron <= 0 {
		cfg.ConfirmationsTron = 20
	}
	if cfg.ConfirmationWindow <= 0 {
		cfg.ConfirmationWindow = time.Hour
	}
	if cfg.Pooling.BaseIdle <= 0 {
		cfg.Pooling.BaseIdle = 60 * time.Second
	}
	if cfg.Pooling.MinPeriod <= 0 {
		cfg.Pooling.MinPeriod = 3 * time.Second
	}
	if cfg.Pooling.BaseActive <= 0 {
		cfg.Pooling.BaseActive = 30 * time.Second
	}
	if cfg.Webhook.PollInterval <= 0 {
		cfg.Webhook.PollInterval = 2 * time.Second
	}
	if cfg.Webhook.BatchLimit <= 0 {
		cfg.Webhook.BatchLimit = 32
	}
	if cfg.Webhook.HTTPTimeout <= 0 {
		cfg.Webhook.HTTPTimeout = 15 * time.Second
	}
}

// decodePairs turns viper's raw "pairs" value (a []interface{} of
// map[string]interface{} when read from TOML/YAML) into []PairConfig.
// Hand-rolled with spf13/cast rather than viper's mapstructure-based
// UnmarshalKey, since Pair's own fields (domain.Network, domain.Token) are
// named string types mapstructure doesn't decode into without a custom
// hook — casting each leaf value is simpler than writing one.
func decodePairs(raw interface{}) ([]PairConfig, error) {
	items := cast.ToSlice(raw)
	out := make([]PairConfig, 0, len(items))
	for _, item := range items {
		m, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, fmt.Errorf("pair entry: %w", err)
		}
		out = append(out, PairConfig{
			Pair: domain.Pair{
				Network: domain.Network(cast.ToString(m["network"])),
				Token:   domain.Token(cast.ToString(m["token"])),
			},
			MerchantWallet: cast.ToString(m["merchant_wallet"]),
			Enabled:        cast.ToBool(m["enabled"]),
		})
	}
	return out, nil
}

// Validate rejects a Config with a malformed pair or a missing explorer
// credential for any enabled pair's network.
func (c *Config) Validate() error {
	for _, p := range c.Pairs {
		if !p.Pair.Valid() {
			return fmt.Errorf("config: invalid pair %s", p.Pair)
		}
		if p.Enabled && p.MerchantWallet == "" {
			return fmt.Errorf("config: pair %s enabled without a merchant_wallet", p.Pair)
		}
		if p.Enabled {
			if _, ok := c.Explorer[p.Pair.Network]; !ok {
				return fmt.Errorf("config: pair %s enabled but no explorer config for network %s", p.Pair, p.Pair.Network)
			}
		}
	}
	return nil
}

// EnabledPairs returns just the Pair values for every enabled entry, the
// shape PoolingManager and internal/app's wiring want.
func (c *Config) EnabledPairs() []domain.Pair {
	out := make([]domain.Pair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		if p.Enabled {
			out = append(out, p.Pair)
		}
	}
	return out
}

const (
	argon2Prefix    = "argon2id$"
	argon2Time      = 1
	argon2Memory    = 64 * 1024
	argon2Threads   = 4
	argon2KeyLength = 32
	argon2SaltBytes = 16
)

// EnsureHashedSecret implements spec.md §9's admin-credential-storage
// contract (SPEC_FULL.md §9C): it recognizes an already-hashed value and
// passes it through unchanged, and otherwise hashes raw with Argon2id and
// returns the encoded form plus rewritten=true so the caller knows to
// persist the new value back to the config file.
func EnsureHashedSecret(raw string) (encoded string, rewritten bool, err error) {
	if strings.HasPrefix(raw, argon2Prefix) {
		return raw, false, nil
	}
	salt := make([]byte, argon2SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", false, fmt.Errorf("config: generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(raw), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLength)
	encoded = fmt.Sprintf("%s%d$%d$%d$%s$%s",
		argon2Prefix, argon2Time, argon2Memory, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	)
	return encoded, true, nil
}

// VerifySecret reports whether raw, when hashed with the same parameters
// and salt encoded in hashed, matches it. Used by the (out-of-scope) HTTP
// surface to authenticate admin requests against AdminSecretHash.
func VerifySecret(raw, hashed string) (bool, error) {
	if !strings.HasPrefix(hashed, argon2Prefix) {
		return false, fmt.Errorf("config: not an argon2id hash")
	}
	parts := strings.Split(strings.TrimPrefix(hashed, argon2Prefix), "$")
	if len(parts) != 5 {
		return false, fmt.Errorf("config: malformed argon2id hash")
	}
	var timeCost, memory, threads uint32
	if _, err := fmt.Sscanf(parts[0], "%d", &timeCost); err != nil {
		return false, fmt.Errorf("config: malformed time cost: %w", err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &memory); err != nil {
		return false, fmt.Errorf("config: malformed memory cost: %w", err)
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &threads); err != nil {
		return false, fmt.Errorf("config: malformed thread count: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, fmt.Errorf("config: malformed salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("config: malformed digest: %w", err)
	}
	got := argon2.IDKey([]byte(raw), salt, timeCost, memory, uint8(threads), uint32(len(want)))
	if len(got) != len(want) {
		return false, nil
	}
	var diff byte
	for i := range got {
		diff |= got[i] ^ want[i]
	}
	return diff == 0, nil
}
