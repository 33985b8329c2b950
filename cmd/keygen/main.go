package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/processlens/backend/pkg/utils/sshkeygen"
)

// keygen writes the ed25519 key pair the sftp upload store authenticates with.
// Point storage.sftp.private_key_path at the private half and install the
// public half in the storage host's authorized_keys.
func main() {
	out := flag.String("out", "config/sftp_ed25519", "private key path; the public key is written next to it with a .pub suffix")
	force := flag.Bool("force", false, "overwrite an existing key pair")
	flag.Parse()

	privateKeyPath := *out
	publicKeyPath := *out + ".pub"

	fmt.Printf("Generating Ed25519 SSH key pair...\n")
	fmt.Printf("Private key: %s\n", privateKeyPath)
	fmt.Printf("Public key: %s\n", publicKeyPath)

	created, err := sshkeygen.GenerateEd25519KeyPair(privateKeyPath, publicKeyPath, *force)
	if err != nil {
		log.Fatalf("Failed to generate key pair: %v", err)
	}

	if created {
		fmt.Printf("Key pair generated successfully\n")
	} else {
		fmt.Printf("Key pair already exists (skipped, pass -force to replace)\n")
	}
}
