package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/json420/dmedia/core/logging"
)

const (
	DeploymentDevelopment = 0
	DeploymentProduction  = 1
)

// SetupDefaultConfig - setup the default config options that can be overridden via the config file
func SetupDefaultConfig() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.console", false)

	viper.SetDefault("store.path", "")
	viper.SetDefault("store.leaf_size", int64(8*1024*1024))
	viper.SetDefault("store.digest", "sha1")
	viper.SetDefault("store.verify_cache_size", 1024)

	viper.SetDefault("transfer.max_leaf_retries", 3)
	viper.SetDefault("transfer.retry_interval", 250*time.Millisecond)

	viper.SetDefault("server.port", 8070)
	viper.SetDefault("server.hostname", "localhost")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.idle_timeout", 120*time.Second)

	viper.SetDefault("rate_limiters.file_rps", 100.0)
	viper.SetDefault("rate_limiters.general_rps", 20.0)
	viper.SetDefault("rate_limiters.default_token_expire_duration", 5*time.Minute)
	viper.SetDefault("rate_limiters.proxy", false)

	viper.SetDefault("audit.num_workers", 4)
}

/*SetupConfig - setup the configuration system */
func SetupConfig(configPath string) {
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.SetEnvPrefix("dmedia")
	viper.AutomaticEnv()
	viper.SetConfigName("dmedia")

	if configPath == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.AddConfigPath(configPath)
	}

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}

	ReadConfig()
}

// TryConfig is SetupConfig for contexts where a config file is optional,
// like the local CLI commands: environment variables and defaults apply
// either way, a missing dmedia.yaml is not an error.
func TryConfig() {
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.SetEnvPrefix("dmedia")
	viper.AutomaticEnv()
	viper.SetConfigName("dmedia")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %s", err))
		}
	}

	ReadConfig()
}

// ReadConfig copies the viper state into the Configuration struct.
func ReadConfig() {
	Configuration.StorePath = viper.GetString("store.path")
	Configuration.LeafSize = viper.GetInt64("store.leaf_size")
	Configuration.Digest = viper.GetString("store.digest")
	Configuration.VerifyCacheSize = viper.GetInt("store.verify_cache_size")

	Configuration.MaxLeafRetries = viper.GetInt("transfer.max_leaf_retries")
	Configuration.RetryInterval = viper.GetDuration("transfer.retry_interval")

	Configuration.Port = viper.GetInt("server.port")
	Configuration.Hostname = viper.GetString("server.hostname")
	Configuration.ReadTimeout = viper.GetDuration("server.read_timeout")
	Configuration.IdleTimeout = viper.GetDuration("server.idle_timeout")

	Configuration.FileRPS = viper.GetFloat64("rate_limiters.file_rps")
	Configuration.GeneralRPS = viper.GetFloat64("rate_limiters.general_rps")
	Configuration.TokenExpireTTL = viper.GetDuration("rate_limiters.default_token_expire_duration")
	Configuration.Proxy = viper.GetBool("rate_limiters.proxy")

	Configuration.AuditNumWorkers = viper.GetInt("audit.num_workers")
}

// WatchConfig re-reads the configuration when the file changes on disk.
// Only the log level takes effect without a restart.
func WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		logging.Logger.Info("config file changed, reloading: " + e.Name)
		ReadConfig()
		if err := logging.SetLevel(viper.GetString("logging.level")); err != nil {
			logging.Logger.Warn("invalid logging.level in reloaded config: " + err.Error())
		}
	})
	viper.WatchConfig()
}

type Config struct {
	DeploymentMode int

	StorePath       string
	LeafSize        int64
	Digest          string
	VerifyCacheSize int

	MaxLeafRetries int
	RetryInterval  time.Duration

	Port        int
	Hostname    string
	ReadTimeout time.Duration
	IdleTimeout time.Duration

	FileRPS        float64
	GeneralRPS     float64
	TokenExpireTTL time.Duration
	Proxy          bool

	AuditNumWorkers int
}

/*Configuration of the system */
var Configuration Config

/*Development - is the program running in development mode? */
func Development() bool {
	return Configuration.DeploymentMode == DeploymentDevelopment
}
