package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tokenrail/tokenrail/scripts/internal"
)

// Command represents a script that can be run
type Command struct {
	Name        string
	Description string
	Run         func() error
}

var commands = []Command{
	{
		Name:        "seed-catalog",
		Description: "Upsert pricing rows from a JSON file into the catalog",
		Run:         internal.SeedCatalog,
	},
	{
		Name:        "grant-tokens",
		Description: "Grant support tokens to a user outside any payment",
		Run:         internal.GrantSupportTokens,
	},
}

func main() {
	var (
		listCommands bool
		cmdName      string
		catalogFile  string
		userID       string
		amount       string
		expiresDays  string
		note         string
	)

	flag.BoolVar(&listCommands, "list", false, "List all available commands")
	flag.StringVar(&cmdName, "cmd", "", "Command to run")
	flag.StringVar(&catalogFile, "catalog-file", "", "Path to catalog JSON file")
	flag.StringVar(&userID, "user-id", "", "User ID for grant operations")
	flag.StringVar(&amount, "amount", "", "Token amount for grant operations")
	flag.StringVar(&expiresDays, "expires-days", "", "Days until granted tokens expire")
	flag.StringVar(&note, "note", "", "Note recorded on the grant")

	flag.Parse()

	if listCommands {
		fmt.Println("Available commands:")
		for _, cmd := range commands {
			fmt.Printf("  %-16s %s\n", cmd.Name, cmd.Description)
		}
		return
	}

	if cmdName == "" {
		log.Fatal("Please specify a command to run using -cmd flag. Use -list to see available commands.")
	}

	// Scripts read their inputs from the environment; flags are a
	// convenience on top.
	if catalogFile != "" {
		os.Setenv("CATALOG_FILE", catalogFile)
	}
	if userID != "" {
		os.Setenv("USER_ID", userID)
	}
	if amount != "" {
		os.Setenv("GRANT_AMOUNT", amount)
	}
	if expiresDays != "" {
		os.Setenv("GRANT_EXPIRES_DAYS", expiresDays)
	}
	if note != "" {
		os.Setenv("GRANT_NOTE", note)
	}

	for _, cmd := range commands {
		if cmd.Name == cmdName {
			if err := cmd.Run(); err != nil {
				log.Fatalf("Error running command %s: %v", cmdName, err)
			}
			return
		}
	}

	log.Fatalf("Unknown command: %s. Use -list to see available commands.", cmdName)
}
