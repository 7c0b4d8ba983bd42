package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr    string `mapstructure:"LISTEN_ADDR"`
	DatabasePath  string `mapstructure:"DB_PATH"`
	ResolverURL   string `mapstructure:"DOH_RESOLVER"`
	DNSPlatform   string `mapstructure:"DNS_PLATFORM"`
	DNSAPIToken   string `mapstructure:"DNS_API_TOKEN"`
	DNSAccessKey  string `mapstructure:"DNS_ACCESS_KEY"`
	DNSSecretKey  string `mapstructure:"DNS_SECRET_KEY"`
	SSHUser       string `mapstructure:"SSH_USER"`
	SSHKeyPath    string `mapstructure:"SSH_KEY_PATH"`
	PrimaryDomain string `mapstructure:"PRIMARY_DOMAIN"`
	ACMEEmail     string `mapstructure:"ACME_EMAIL"`
	RecordTTL     int    `mapstructure:"RECORD_TTL"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("DB_PATH", "domainpilot.db")
	viper.SetDefault("DOH_RESOLVER", "https://cloudflare-dns.com/dns-query")
	viper.SetDefault("DNS_PLATFORM", "cloudflare")
	viper.SetDefault("RECORD_TTL", 3600)

	viper.SetEnvPrefix("DOMAINPILOT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Support fallback loading of credentials from a file if env is not set
	viper.SetConfigFile(".env")
	// Ignore err if .env doesn't exist
	_ = viper.ReadInConfig()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
