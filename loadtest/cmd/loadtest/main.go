// Package main is the entry point for the chat relay load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: idle connections spread across rooms
//   - chat:     rooms full of users chatting, with toxic lines and reports
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test: opens N idle connections across rooms")
	fmt.Println("  chat        Room chat load test: users chat, some lines toxic, some reported")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
