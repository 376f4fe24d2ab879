package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"cvforge/internal/config"
	"cvforge/internal/database"
)

var dbFlags struct {
	host     string
	port     int
	name     string
	user     string
	password string
	sslMode  string
}

var rootCmd = &cobra.Command{
	Use:           "cvforge-admin",
	Short:         "cvforge 运维工具：授予管理员、重置模板目录、签发本地调试令牌",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&dbFlags.host, "db-host", "", "数据库 Host（默认读 DATABASE_HOST）")
	flags.IntVar(&dbFlags.port, "db-port", 0, "数据库 Port（默认读 DATABASE_PORT）")
	flags.StringVar(&dbFlags.name, "db-name", "", "数据库名（默认读 POSTGRES_DB）")
	flags.StringVar(&dbFlags.user, "db-user", "", "数据库用户（默认读 POSTGRES_USER）")
	flags.StringVar(&dbFlags.password, "db-password", "", "数据库密码（默认读 POSTGRES_PASSWORD）")
	flags.StringVar(&dbFlags.sslMode, "db-sslmode", "", "数据库 SSLMODE（默认读 DATABASE_SSLMODE）")

	rootCmd.AddCommand(migrateCmd(), promoteCmd(), templatesCmd(), devTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openDatabase 只依赖数据库配置，运维命令不要求 MinIO 等其余配置完整。
func openDatabase() (*gorm.DB, error) {
	cfg, err := loadDatabaseConfig()
	if err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}
	return database.InitDatabase(cfg)
}

func loadDatabaseConfig() (config.DatabaseConfig, error) {
	port := dbFlags.port
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if port <= 0 {
		port = 5432
	}

	cfg := config.DatabaseConfig{
		Host:     firstNonEmpty(dbFlags.host, os.Getenv("DATABASE_HOST"), "localhost"),
		Port:     port,
		Name:     firstNonEmpty(dbFlags.name, os.Getenv("POSTGRES_DB")),
		User:     firstNonEmpty(dbFlags.user, os.Getenv("POSTGRES_USER")),
		Password: firstNonEmpty(dbFlags.password, os.Getenv("POSTGRES_PASSWORD")),
		SSLMode:  firstNonEmpty(dbFlags.sslMode, os.Getenv("DATABASE_SSLMODE"), "disable"),
	}
	switch {
	case cfg.Name == "":
		return cfg, errors.New("database name is required (POSTGRES_DB)")
	case cfg.User == "":
		return cfg, errors.New("database user is required (POSTGRES_USER)")
	case cfg.Password == "":
		return cfg, errors.New("database password is required (POSTGRES_PASSWORD)")
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
