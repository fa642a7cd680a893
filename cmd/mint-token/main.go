// Command mint-token issues a bearer token signed with the server master
// secret, for local development and tests.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bhandras/huddle/internal/crypto"
)

func main() {
	secret := flag.String("secret", os.Getenv("HUDDLE_MASTER_SECRET"), "server master secret")
	subject := flag.String("subject", "", "external subject id (required)")
	name := flag.String("name", "", "display name claim")
	ttl := flag.Duration("ttl", crypto.DefaultTokenTTL, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "-subject is required")
		flag.Usage()
		os.Exit(2)
	}

	m, err := crypto.NewJWTManager(*secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	token, err := m.CreateToken(*subject, *name, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
