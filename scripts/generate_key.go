package main

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
)

func main() {
	// Generate a new ECDSA key pair for the trading account
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal("Failed to generate key:", err)
	}

	// Get the private key in hex format
	privateKeyHex := fmt.Sprintf("%x", crypto.FromECDSA(privateKey))
	fmt.Printf("ARBOT_PRIVATE_KEY=0x%s\n", privateKeyHex)

	// Get the public address
	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	fmt.Printf("Public Address: %s\n", address.Hex())
}
