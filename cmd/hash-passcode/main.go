package main

import (
	"fmt"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/examify/examify-backend/internal/config"
)

// Generates the bcrypt hash for UNLOCK_PASSCODE_HASH or REFRESH_CODE_HASH.
// The plaintext never touches the environment or the database.
func main() {
	cfg := config.Load()

	fmt.Println("=== Hash a Passcode ===")
	fmt.Print("Enter passcode: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading passcode")
		return
	}
	fmt.Println()

	if len(first) < 4 {
		fmt.Println("Error: passcode must be at least 4 characters")
		return
	}

	fmt.Print("Repeat passcode: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading passcode")
		return
	}
	fmt.Println()

	if string(first) != string(second) {
		fmt.Println("Error: passcodes do not match")
		return
	}

	hash, err := bcrypt.GenerateFromPassword(first, cfg.BcryptCost)
	if err != nil {
		fmt.Printf("Error: failed to hash passcode: %v\n", err)
		return
	}

	fmt.Println("\nAdd one of these to your environment:")
	fmt.Printf("UNLOCK_PASSCODE_HASH='%s'\n", hash)
	fmt.Printf("REFRESH_CODE_HASH='%s'\n", hash)
}
