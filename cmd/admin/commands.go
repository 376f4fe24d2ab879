package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cvforge/internal/auth"
	"cvforge/internal/database"
	"cvforge/internal/templates"
	"cvforge/internal/users"
)

func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "创建或更新全部数据表",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			return database.Migrate(db, cliLogger())
		},
	}
}

func promoteCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "promote <external-id>",
		Short: "设置用户角色（默认 ADMIN），用户不存在时先创建本地镜像",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			dir := users.NewDirectory(db, nil, cliLogger())
			user, err := dir.ResolveOrCreate(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resolve user: %w", err)
			}
			user, err = dir.SetRole(cmd.Context(), user.ID, database.Role(strings.ToUpper(role)))
			if err != nil {
				return fmt.Errorf("set role: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d (%s) role=%s\n", user.ID, user.ExternalID, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(database.RoleAdmin), "USER 或 ADMIN")
	return cmd
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "模板目录维护",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "以内置目录整体替换模板表",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			count, err := templates.NewCatalog(db).Reset(cmd.Context(), templates.DefaultCatalog())
			if err != nil {
				return fmt.Errorf("reset templates: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "template catalog reset, %d templates\n", count)
			return nil
		},
	})
	return cmd
}

// devTokenCmd 使用本地私钥签发会话令牌，仅用于开发环境联调。
func devTokenCmd() *cobra.Command {
	var (
		keyPath string
		issuer  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dev-token <external-id>",
		Short: "签发本地调试用的会话令牌",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyPath == "" {
				return errors.New("--private-key is required")
			}
			pemBytes, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("read private key: %w", err)
			}
			signer, err := auth.NewSigner(pemBytes, issuer, ttl)
			if err != nil {
				return err
			}
			token, err := signer.Sign(args[0])
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "private-key", "", "RSA 私钥 PEM 文件")
	cmd.Flags().StringVar(&issuer, "issuer", os.Getenv("AUTH_ISSUER"), "令牌 iss")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "有效期")
	return cmd
}
