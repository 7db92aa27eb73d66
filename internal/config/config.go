// Package config содержит логику чтения конфигурации сервиса бронирования.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress  = "localhost:8080"
	defaultAuthSecret  = "canteen-secret"
	defaultEmailDomain = "buft.edu.bd"
	defaultAdminEmails = "admin@buft.edu.bd,notification@buft.edu.bd"
)

// Config содержит параметры конфигурации сервиса бронирования.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	DirectoryAddress string `env:"DIRECTORY_ADDRESS"`
	AMQPURL          string `env:"AMQP_URL"`
	AuthSecret       string `env:"AUTH_SECRET"`
	EmailDomain      string `env:"EMAIL_DOMAIN"`
	AdminEmails      string `env:"ADMIN_EMAILS"`
	SeedMenu         bool   `env:"SEED_MENU"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения; значения окружения имеют приоритет. Файл .env, если он есть,
// подгружается до разбора.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envDirectoryAddress := cfg.DirectoryAddress
	envAMQPURL := cfg.AMQPURL
	envAuthSecret := cfg.AuthSecret
	envEmailDomain := cfg.EmailDomain
	envAdminEmails := cfg.AdminEmails
	envSeedMenu := cfg.SeedMenu

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (empty runs in-memory storage)")
	flag.StringVar(&cfg.DirectoryAddress, "r", "", "employee directory service address")
	flag.StringVar(&cfg.AMQPURL, "q", "", "AMQP broker URL for reservation events")
	flag.StringVar(&cfg.AuthSecret, "s", defaultAuthSecret, "secret key for auth cookie signing")
	flag.StringVar(&cfg.EmailDomain, "m", defaultEmailDomain, "allowed email domain")
	flag.StringVar(&cfg.AdminEmails, "admins", defaultAdminEmails, "comma-separated admin emails")
	flag.BoolVar(&cfg.SeedMenu, "seed", false, "seed today's menu when empty")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envDirectoryAddress != "" {
		cfg.DirectoryAddress = envDirectoryAddress
	}
	if envAMQPURL != "" {
		cfg.AMQPURL = envAMQPURL
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envEmailDomain != "" {
		cfg.EmailDomain = envEmailDomain
	}
	if envAdminEmails != "" {
		cfg.AdminEmails = envAdminEmails
	}
	if envSeedMenu {
		cfg.SeedMenu = true
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.EmailDomain == "" {
		cfg.EmailDomain = defaultEmailDomain
	}

	return cfg, nil
}

// AdminEmailList возвращает список адресов администраторов.
func (c *Config) AdminEmailList() []string {
	if c.AdminEmails == "" {
		return nil
	}

	parts := strings.Split(c.AdminEmails, ",")
	emails := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			emails = append(emails, p)
		}
	}
	return emails
}
