package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	ServerConfig struct {
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		SecretKey          string
		JWTExpirationDelta time.Duration
	}

	Config struct {
		Env               string // DEV (local; default), TEST, QA, PROD
		Build             string
		Debug             bool
		TestMode          bool
		WorkDir           string
		AppName           string
		FrontendBaseURL   string
		RollbarToken      string
		SendgridApiKey    string
		OptionSourcesFile string // yaml collections for dynamic rubric options
		Database          DatabaseConfig
		Server            ServerConfig

		defaultFromEmail string
	}
)

// NewConfig reads the configuration from the environment (prefixed with the env name)
// and from `config/.env.<env>` when that file exists.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "dev")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Convoca")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")
	v.SetDefault("defaultFromEmail", "Convoca <noreply@localhost>")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("optionSourcesFile", "")

	v.SetDefault("server_host", "0.0.0.0:8000")
	v.SetDefault("server_debugHost", "0.0.0.0:4000")
	v.SetDefault("server_shutdownTimeout", 5*time.Second)
	v.SetDefault("server_secretKey", "t3mp-s3cr3t(k3y)-ch4ng3-m3-1n-pr0d")
	v.SetDefault("server_jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database_engine", "postgres")
	v.SetDefault("database_host", "localhost")
	v.SetDefault("database_port", 5432)
	v.SetDefault("database_name", "convoca")
	v.SetDefault("database_user", "convoca")
	v.SetDefault("database_password", "convoca")
	v.SetDefault("database_adminUser", "postgres")
	v.SetDefault("database_adminPassword", "postgres")
	v.SetDefault("database_disableTLS", true)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:               env,
		Build:             v.GetString("build"),
		Debug:             v.GetBool("debug"),
		TestMode:          v.GetBool("testMode"),
		WorkDir:           wd,
		AppName:           v.GetString("appName"),
		FrontendBaseURL:   v.GetString("frontendBaseURL"),
		RollbarToken:      v.GetString("rollbarToken"),
		SendgridApiKey:    v.GetString("sendgridApiKey"),
		OptionSourcesFile: v.GetString("optionSourcesFile"),
		Database: DatabaseConfig{
			Engine:        v.GetString("database_engine"),
			Host:          v.GetString("database_host"),
			Port:          v.GetInt("database_port"),
			Name:          v.GetString("database_name"),
			User:          v.GetString("database_user"),
			Password:      v.GetString("database_password"),
			AdminUser:     v.GetString("database_adminUser"),
			AdminPassword: v.GetString("database_adminPassword"),
			DisableTLS:    v.GetBool("database_disableTLS"),
		},
		Server: ServerConfig{
			Host:               v.GetString("server_host"),
			DebugHost:          v.GetString("server_debugHost"),
			ShutdownTimeout:    v.GetDuration("server_shutdownTimeout"),
			SecretKey:          v.GetString("server_secretKey"),
			JWTExpirationDelta: v.GetDuration("server_jwtExpirationDelta"),
		},
		defaultFromEmail: v.GetString("defaultFromEmail"),
	}
}

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, strconv.Itoa(dbc.Port))
}

func (conf *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(conf.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: conf.AppName, Address: conf.defaultFromEmail}
	}
	return *addr
}

func (conf *Config) String() string {
	return fmt.Sprintf("%s (env=%s, build=%s)", conf.AppName, conf.Env, conf.Build)
}
