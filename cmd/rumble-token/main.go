// Package main mints signed API tokens for operators and score feeds.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/rumble/internal/middleware"
)

func main() {
	secret := flag.String("secret", "", "Signing secret (defaults to AUTH_SECRET)")
	subject := flag.String("subject", "", "Token subject, e.g. an operator name")
	role := flag.String("role", middleware.RoleAdmin, "Token role: admin or scorer")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	// Allow a .env file for local runs.
	_ = godotenv.Load()

	if *secret == "" {
		*secret = os.Getenv("AUTH_SECRET")
	}
	if *secret == "" || *subject == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *role != middleware.RoleAdmin && *role != middleware.RoleScorer {
		log.Fatalf("unknown role %q; want %q or %q", *role, middleware.RoleAdmin, middleware.RoleScorer)
	}

	now := time.Now()
	claims := &middleware.Claims{
		Role: *role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   *subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(*secret))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}

	fmt.Println(signed)
}
