// Command issuetoken prints a signed bearer token for the billing API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"community-billing/internal/auth"
)

func main() {
	secret := flag.String("secret", os.Getenv("AUTH_JWT_SECRET"), "HS256 signing secret")
	subject := flag.String("sub", "", "member id recorded as audit actor")
	role := flag.String("role", string(auth.RoleViewer), "viewer, operator or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "sub is required")
		os.Exit(2)
	}
	normalized, ok := auth.NormalizeRole(*role)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}
	token, err := auth.IssueToken([]byte(*secret), *subject, normalized, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
