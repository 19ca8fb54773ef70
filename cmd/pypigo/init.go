package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pypigo/pypigo/access"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a starter configuration interactively",
	Long: `Generate config.yaml and access.yaml interactively.

You will be prompted for:
  - Server port
  - Fallback policy and upstream index URL
  - Storage path and cache database settings
  - An initial administrator account

The administrator password is stored as a SHA256 digest in access.yaml.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	const (
		configPath = "config.yaml"
		accessPath = "access.yaml"
	)

	if _, err := os.Stat(configPath); err == nil {
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("'%s' already exists. Overwrite it", configPath),
			IsConfirm: true,
		}
		if _, promptErr := prompt.Run(); promptErr != nil {
			fmt.Println("Cancelled.")
			return nil //nolint:nilerr // User cancelled, not an error
		}
	}

	portPrompt := promptui.Prompt{
		Label:   "Server port",
		Default: "6543",
		Validate: func(input string) error {
			port, err := strconv.Atoi(input)
			if err != nil || port < 1 || port > 65535 {
				return errors.New("port must be a number between 1 and 65535")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}
	port, _ := strconv.Atoi(portStr)

	policyPrompt := promptui.Select{
		Label: "Fallback policy for packages not hosted here",
		Items: []string{"redirect", "cache", "mirror", "none"},
	}
	_, policy, err := policyPrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}

	baseURL := ""
	if policy != "none" {
		urlPrompt := promptui.Prompt{
			Label:   "Upstream index URL",
			Default: "https://pypi.org",
			Validate: func(input string) error {
				parsed, parseErr := url.Parse(input)
				if parseErr != nil {
					return fmt.Errorf("invalid URL: %w", parseErr)
				}
				if parsed.Scheme != "http" && parsed.Scheme != "https" {
					return errors.New("URL must start with http:// or https://")
				}
				return nil
			},
		}
		baseURL, err = urlPrompt.Run()
		if err != nil {
			return handlePromptError(err)
		}
	}

	storagePrompt := promptui.Prompt{
		Label:   "Package storage directory",
		Default: "./packages",
	}
	storagePath, err := storagePrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}

	dbPrompt := promptui.Select{
		Label: "Cache database",
		Items: []string{"sqlite", "postgres"},
	}
	_, dbType, err := dbPrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}

	dsnDefault := "pypigo.db"
	if dbType == "postgres" {
		dsnDefault = "postgres://localhost:5432/pypigo"
	}
	dsnPrompt := promptui.Prompt{
		Label:   "Database DSN",
		Default: dsnDefault,
	}
	dsn, err := dsnPrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}

	adminPrompt := promptui.Prompt{
		Label: "Administrator username",
		Validate: func(input string) error {
			if input == "" {
				return errors.New("username is required")
			}
			return nil
		},
	}
	adminName, err := adminPrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}

	passwordPrompt := promptui.Prompt{
		Label: "Administrator password",
		Mask:  '*',
		Validate: func(input string) error {
			if len(input) < 8 {
				return errors.New("password must be at least 8 characters")
			}
			return nil
		},
	}
	adminPassword, err := passwordPrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}

	accessFile := access.File{
		Users: map[string]access.UserEntry{
			adminName: {
				Password: access.HashPassword(adminPassword),
				Admin:    true,
			},
		},
	}
	if err := writeYAML(accessPath, accessFile, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", accessPath, err)
	}

	cfg := map[string]any{
		"server": map[string]any{"port": port},
		"fallback": map[string]any{
			"policy":   policy,
			"base_url": baseURL,
		},
		"database": map[string]any{
			"type": dbType,
			"dsn":  dsn,
		},
		"storage": map[string]any{"path": storagePath},
		"access": map[string]any{
			"file":         accessPath,
			"default_read": []string{"everyone"},
			"cache_update": []string{"authenticated"},
		},
		"log": map[string]any{"level": "info", "format": "dev"},
	}
	if err := writeYAML(configPath, cfg, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", configPath, err)
	}

	fmt.Printf("Wrote %s and %s.\n", configPath, accessPath)
	fmt.Println("Start the server with: pypigo serve")
	return nil
}

func writeYAML(path string, value any, perm os.FileMode) error {
	raw, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, perm)
}

func handlePromptError(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) {
		fmt.Println("Cancelled.")
		return nil
	}
	return err
}
