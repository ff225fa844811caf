package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/user/statuskeeper/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println(titleStyle.Render("statuskeeper setup"))
		fmt.Println("Press Enter to accept the value shown in brackets.")
		fmt.Println()

		cfg.Bridge.URL = prompt(scanner, "Bridge URL", cfg.Bridge.URL)
		cfg.Bridge.Token = promptSecret(scanner, "Bridge token (optional)", cfg.Bridge.Token)
		cfg.ArtifactDir = prompt(scanner, "Artifact directory", cfg.ArtifactPath())
		cfg.Auth.Passphrase = promptSecret(scanner, "Credential passphrase (optional)", cfg.Auth.Passphrase)
		cfg.Redis.URL = prompt(scanner, "Redis URL for the name index (optional)", cfg.Redis.URL)
		cfg.Telegram.Token = promptSecret(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			chat := prompt(scanner, "Telegram chat ID", strconv.FormatInt(cfg.Telegram.ChatID, 10))
			if n, err := strconv.ParseInt(chat, 10, 64); err == nil {
				cfg.Telegram.ChatID = n
			}
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt reads one line, returning defaultVal when the input is empty.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

// promptSecret is prompt without echo. It falls back to a plain read when
// stdin is not a terminal.
func promptSecret(scanner *bufio.Scanner, label, defaultVal string) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(scanner, label, defaultVal)
	}
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, config.Mask(defaultVal))
	} else {
		fmt.Printf("%s: ", label)
	}
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return defaultVal
	}
	if s := strings.TrimSpace(string(b)); s != "" {
		return s
	}
	return defaultVal
}
