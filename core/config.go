package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		defaultFromEmail string
		RollbarToken     string
		SendgridApiKey   string

		Server   ServerConfig
		Database DatabaseConfig
		Session  SessionConfig
		Auth     AuthConfig
	}

	ServerConfig struct {
		Host            string
		DebugHost       string
		ShutdownTimeout time.Duration
		SignInRate      float64 // sign-in attempts per second, per client IP
		SignInBurst     int
	}

	DatabaseConfig struct {
		Storage    string // memory | postgres
		Engine     string
		Host       string
		Port       string
		Name       string
		User       string
		Password   string
		DisableTLS bool
	}

	SessionConfig struct {
		ProfileCacheTTL  time.Duration
		ProfileCacheSize int
		LookupTimeout    time.Duration
		NotifySignIn     bool
	}

	AuthConfig struct {
		TokenExpirationDelta time.Duration
		Audience             string
	}
)

func (dbConf DatabaseConfig) Address() string {
	return net.JoinHostPort(dbConf.Host, dbConf.Port)
}

func (conf *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: conf.AppName, Address: conf.defaultFromEmail}
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("build", "dev")
	conf.SetDefault("appName", "Masomo")
	conf.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridApiKey", "")

	conf.SetDefault("serverHost", ":8000")
	conf.SetDefault("serverDebugHost", ":4000")
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)
	conf.SetDefault("serverSignInRate", 0.5)
	conf.SetDefault("serverSignInBurst", 5)

	conf.SetDefault("dbStorage", "memory")
	conf.SetDefault("dbEngine", "postgres")
	conf.SetDefault("dbHost", "localhost")
	conf.SetDefault("dbPort", "5432")
	conf.SetDefault("dbName", "masomo")
	conf.SetDefault("dbUser", "masomo")
	conf.SetDefault("dbPassword", "")
	conf.SetDefault("dbDisableTLS", true)

	conf.SetDefault("sessionProfileCacheTTL", 5*time.Minute)
	conf.SetDefault("sessionProfileCacheSize", 512)
	conf.SetDefault("sessionLookupTimeout", 10*time.Second)
	conf.SetDefault("sessionNotifySignIn", false)

	conf.SetDefault("authTokenExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("authAudience", "Academia")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Env:              env,
		Build:            conf.GetString("build"),
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		AppName:          conf.GetString("appName"),
		SecretKey:        conf.GetString("secretKey"),
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		defaultFromEmail: conf.GetString("defaultFromEmail"),
		RollbarToken:     conf.GetString("rollbarToken"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		Server: ServerConfig{
			Host:            conf.GetString("serverHost"),
			DebugHost:       conf.GetString("serverDebugHost"),
			ShutdownTimeout: conf.GetDuration("serverShutdownTimeout"),
			SignInRate:      conf.GetFloat64("serverSignInRate"),
			SignInBurst:     conf.GetInt("serverSignInBurst"),
		},
		Database: DatabaseConfig{
			Storage:    conf.GetString("dbStorage"),
			Engine:     conf.GetString("dbEngine"),
			Host:       conf.GetString("dbHost"),
			Port:       conf.GetString("dbPort"),
			Name:       conf.GetString("dbName"),
			User:       conf.GetString("dbUser"),
			Password:   conf.GetString("dbPassword"),
			DisableTLS: conf.GetBool("dbDisableTLS"),
		},
		Session: SessionConfig{
			ProfileCacheTTL:  conf.GetDuration("sessionProfileCacheTTL"),
			ProfileCacheSize: conf.GetInt("sessionProfileCacheSize"),
			LookupTimeout:    conf.GetDuration("sessionLookupTimeout"),
			NotifySignIn:     conf.GetBool("sessionNotifySignIn"),
		},
		Auth: AuthConfig{
			TokenExpirationDelta: conf.GetDuration("authTokenExpirationDelta"),
			Audience:             conf.GetString("authAudience"),
		},
	}
}

// NewTestConfig returns the defaults used by package tests, without touching the environment.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		Debug:            true,
		TestMode:         true,
		AppName:          "Masomo",
		SecretKey:        "test-secret",
		FrontendBaseURL:  "http://localhost:3000",
		defaultFromEmail: "noreply@localhost",
		Server: ServerConfig{
			Host:            ":0",
			ShutdownTimeout: time.Second,
			SignInRate:      100,
			SignInBurst:     100,
		},
		Database: DatabaseConfig{Storage: "memory", Engine: "postgres"},
		Session: SessionConfig{
			ProfileCacheTTL:  5 * time.Minute,
			ProfileCacheSize: 64,
			LookupTimeout:    time.Second,
		},
		Auth: AuthConfig{
			TokenExpirationDelta: time.Hour,
			Audience:             "Academia",
		},
	}
}
