package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
)

// generateSecret creates a random 256-bit secret.
func generateSecret() []byte {
	secret := make([]byte, 32) // 32 bytes = 256 bits
	if _, err := rand.Read(secret); err != nil {
		log.Fatalf("Unable to generate secret: %v", err)
	}
	return secret
}

func main() {
	// Generate secrets for the deployment env: one for signing local auth
	// tokens, one for guarding the cron endpoints.
	fmt.Println("AUTH_SECRET:", hex.EncodeToString(generateSecret()))
	fmt.Println("CRON_SECRET:", hex.EncodeToString(generateSecret()))
}
