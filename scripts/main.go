package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/flexprice/plancore/scripts/internal"
)

// Command represents a script that can be run
type Command struct {
	Name        string
	Description string
	Run         func() error
}

var commands = []Command{
	{
		Name:        "publish-user-deleted",
		Description: "Publish a USER_DELETED event for -user-id",
		Run:         internal.PublishUserDeleted,
	},
	{
		Name:        "drain-outbox",
		Description: "Retry due entitlement sync tasks once",
		Run:         internal.DrainEntitlementOutbox,
	},
	{
		Name:        "kafka-test-connection",
		Description: "Check broker connectivity and the user events topics",
		Run:         internal.TestKafkaConnection,
	},
}

func main() {
	// Define command line flags
	var (
		listCommands bool
		cmdName      string
		userID       string
	)

	flag.BoolVar(&listCommands, "list", false, "List all available commands")
	flag.StringVar(&cmdName, "cmd", "", "Command to run")
	flag.StringVar(&userID, "user-id", "", "User ID for operations")

	flag.Parse()

	if listCommands {
		fmt.Println("Available commands:")
		for _, cmd := range commands {
			fmt.Printf("  %-20s %s\n", cmd.Name, cmd.Description)
		}
		return
	}

	if cmdName == "" {
		log.Fatal("Please specify a command to run using -cmd flag. Use -list to see available commands.")
	}

	// Set command-specific environment variables
	if userID != "" {
		os.Setenv("USER_ID", userID)
	}

	// Find and run the command
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
