// Command ocn-admin-token mints a bearer token for the node admin API.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/ocn-node/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	secret := flag.String("secret", os.Getenv("OCN_ADMIN_SECRET"), "Admin secret (defaults to OCN_ADMIN_SECRET)")
	operator := flag.String("operator", "", "Operator name recorded in the audit log")
	expiry := flag.Duration("expiry", middleware.DefaultAdminTokenExpiry, "Token lifetime")
	flag.Parse()

	if *secret == "" || *operator == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *expiry <= 0 || *expiry > 30*24*time.Hour {
		log.Fatalf("expiry must be between 0 and 720h, got %s", *expiry)
	}

	token, err := middleware.NewAdminTokenGenerator(*secret, *operator, *expiry).GenerateToken()
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Println(token)
}
