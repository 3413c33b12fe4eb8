// Command tokengen mints a bearer token for a user id, for operators and
// local testing. The service itself never issues credentials.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"investigraph/internal/config"
	"investigraph/internal/pkg/jwtutil"
)

func main() {
	userID := flag.Uint("user", 0, "user id to embed in the token")
	username := flag.String("name", "", "username to embed in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == 0 {
		log.Fatal("missing required -user flag")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	token, err := jwtutil.GenerateToken(cfg.Auth.JWTSecret, *userID, *username, *ttl)
	if err != nil {
		log.Fatalf("generate token failed: %v", err)
	}
	fmt.Println(token)
}
