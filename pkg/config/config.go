package config

import (
	"os"
	"strings"
	"time"

	"github.com/ansel1/merry"
	"github.com/fatih/structs"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	ClientIP ClientIPConfig `mapstructure:"clientIP"`
	Log      LogConfig      `mapstructure:"log"`
	History  HistoryConfig  `mapstructure:"history"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Registry RegistryConfig `mapstructure:"registry"`
}

type ServerConfig struct {
	Address           string        `mapstructure:"address"`
	AdminAddress      string        `mapstructure:"adminAddress"`
	GRPCAddress       string        `mapstructure:"grpcAddress"`
	H2C               bool          `mapstructure:"h2c"`
	WireOrder         bool          `mapstructure:"wireOrder"`
	MaxHeaderBytes    int           `mapstructure:"maxHeaderBytes"`
	ReadHeaderTimeout time.Duration `mapstructure:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdownTimeout"`
}

type ClientIPConfig struct {
	Source         string   `mapstructure:"source"`
	TrustedProxies []string `mapstructure:"trustedProxies"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HistoryConfig struct {
	Size     int    `mapstructure:"size"`
	Database string `mapstructure:"database"`
}

type AdminConfig struct {
	RateLimit float64 `mapstructure:"rateLimit"`
	Burst     int     `mapstructure:"burst"`
}

type RegistryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"serviceName"`
	GroupName   string        `mapstructure:"groupName"`
	ClusterName string        `mapstructure:"clusterName"`
	Namespace   string        `mapstructure:"namespace"`
	Servers     []string      `mapstructure:"servers"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheDir    string        `mapstructure:"cacheDir"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           "127.0.0.1:8080",
			H2C:               true,
			WireOrder:         true,
			MaxHeaderBytes:    1 << 20,
			ReadHeaderTimeout: time.Second * 10,
			ShutdownTimeout:   time.Second * 5,
		},
		ClientIP: ClientIPConfig{
			Source:         "connect-info",
			TrustedProxies: []string{},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		History: HistoryConfig{
			Size: 100,
		},
		Admin: AdminConfig{
			RateLimit: 20,
			Burst:     40,
		},
		Registry: RegistryConfig{
			ServiceName: "reqecho",
			GroupName:   "DEFAULT_GROUP",
			ClusterName: "DEFAULT",
			Servers:     []string{},
			Timeout:     time.Second * 5,
			CacheDir:    "~/.reqecho/nacos",
		},
	}
}

// ReadConfig loads the configuration from defaults, an optional config file
// (--config or CONFIG) and environment variables, in increasing precedence.
func ReadConfig(args ...string) (*Config, error) {
	var config Config
	v := viper.New()

	flags := pflag.NewFlagSet("reqecho", pflag.ContinueOnError)
	flags.StringP("config", "c", os.Getenv("CONFIG"), "Path to the config file")

	if err := flags.Parse(args); err != nil {
		return nil, merry.Wrap(err)
	}

	// Bind to environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	s := structs.New(Default())
	s.TagName = "mapstructure"

	if err := v.MergeConfigMap(s.Map()); err != nil {
		return nil, merry.Wrap(err)
	}

	if path, _ := flags.GetString("config"); path != "" {
		expanded, err := homedir.Expand(path)

		if err != nil {
			return nil, merry.Wrap(err)
		}

		v.SetConfigFile(expanded)

		if err := v.MergeInConfig(); err != nil {
			return nil, merry.Wrap(err).WithValue("path", expanded)
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		return nil, merry.Wrap(err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustReadConfig() *Config {
	conf, err := ReadConfig(os.Args[1:]...)

	if err != nil {
		panic(err)
	}

	return conf
}

func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return merry.New("server.address is required")
	}

	switch c.Log.Format {
	case "", "json", "console":
	default:
		return merry.Errorf("unsupported log format %q", c.Log.Format)
	}

	if c.History.Size < 0 {
		return merry.Errorf("history.size must not be negative: %d", c.History.Size)
	}

	if c.Registry.Enabled && len(c.Registry.Servers) == 0 {
		return merry.New("registry.servers is required when the registry is enabled")
	}

	return nil
}
