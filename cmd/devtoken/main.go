package main

import (
	"flag"
	"fmt"
	"os"
	"parlor/internal/auth"
	"parlor/internal/models"
	"time"
)

func main() {
	sub := flag.String("sub", "", "User id (token subject)")
	name := flag.String("name", "", "Display name")
	avatar := flag.String("avatar", "", "Avatar URL")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	flag.Parse()

	secret := os.Getenv("DEV_TOKEN_SECRET")
	if *sub == "" || secret == "" {
		fmt.Println("Usage: DEV_TOKEN_SECRET=... devtoken -sub ID [-name NAME] [-avatar URL] [-ttl 1h]")
		os.Exit(1)
	}

	user := models.User{ID: *sub, Name: *name, Avatar: *avatar}
	token, err := auth.SignDevToken(secret, os.Getenv("TOKEN_ISSUER"), user, *ttl, time.Now())
	if err != nil {
		fmt.Printf("Error signing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
