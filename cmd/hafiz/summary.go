package main

import (
	"fmt"
	"os"

	"github.com/MrWong99/hafiz/internal/config"
)

func printStartupSummary(c *cli, cfg *config.Config) {
	w := c.out
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║          Hafiz startup summary        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(c, "LLM", providerLabel(cfg.Providers.LLM))
	printRow(c, "STT", providerLabel(cfg.Providers.STT))
	printRow(c, "Storage", string(cfg.Storage.Backend))
	printRow(c, "Threshold", fmt.Sprintf("%.2f", cfg.Recitation.Threshold))
	printRow(c, "Language", cfg.Feedback.Language)
	if cfg.Announce.Enabled() {
		printRow(c, "Discord", "announcing")
	} else {
		printRow(c, "Discord", "(disabled)")
	}
	printRow(c, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func printRow(c *cli, key, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:16]) + "…"
	}
	fmt.Fprintf(c.out, "║  %-12s    : %-19s ║\n", key, value)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
