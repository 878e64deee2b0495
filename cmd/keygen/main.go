package main

import (
	"fmt"
	"os"

	"github.com/tjfontaine/storefront-studio/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/keygen <api-key>")
		fmt.Println("Prints the SHA-256 form of an API key for server.api_keys in config.yaml")
		os.Exit(1)
	}

	apiKey := os.Args[1]
	keyHash := auth.HashAPIKey(apiKey)

	fmt.Printf("API Key: %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("server:\n")
	fmt.Printf("  api_keys:\n")
	fmt.Printf("    - \"sha256:%s\"\n", keyHash)
}
