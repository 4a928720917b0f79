// Package main grants the admin role to a registered voter.
//
// Usage:
//
//	setadmin -data-dir ./exchange-data [-portal-data-dir ./portal-data] 010130-2989
//
// The backend profile is always updated, so the role is carried by every
// custom token minted from then on. With -portal-data-dir the portal account
// gets the isAdmin claim immediately as well; otherwise it follows at the
// user's next sign-in.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sosi/kosningakerfi/internal/auth"
	"github.com/sosi/kosningakerfi/internal/backend"
	"github.com/sosi/kosningakerfi/internal/domain"
	"github.com/sosi/kosningakerfi/internal/identity"
	"github.com/sosi/kosningakerfi/internal/ssn"
	"github.com/sosi/kosningakerfi/internal/store/file"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "Exchange backend data directory")
	portalDataDir := flag.String("portal-data-dir", "", "Portal data directory (optional)")
	revoke := flag.Bool("revoke", false, "Revoke the admin role instead of granting it")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <kennitala>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	kennitala := ssn.Normalize(flag.Arg(0))
	if err := ssn.Check(kennitala); err != nil {
		log.Fatalf("Invalid kennitala: %v", err)
	}

	role := domain.RoleAdmin
	if *revoke {
		role = domain.RoleVoter
	}

	ctx := context.Background()

	store, err := file.NewStore(*dataDir)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer store.Close()

	// Only the profile store is needed to change a role.
	service := backend.NewService(nil, store.Profiles(), nil, nil)
	profile, err := service.SetRole(ctx, kennitala, role)
	if err != nil {
		log.Fatalf("Failed to set role for %s: %v", ssn.Format(kennitala), err)
	}
	fmt.Printf("Set role %s for %s (%s)\n", profile.Role, profile.FullName, ssn.Format(kennitala))

	if *portalDataDir == "" {
		fmt.Println("The portal picks the role up at the user's next sign-in.")
		return
	}

	portalStore, err := file.NewStore(*portalDataDir)
	if err != nil {
		log.Fatalf("Failed to initialize portal store: %v", err)
	}
	defer portalStore.Close()

	platform := identity.NewPlatform(portalStore, auth.NewSessionService(portalStore.Sessions()), nil, nil)
	if err := platform.SetCustomClaims(ctx, profile.UserID, map[string]any{domain.ClaimIsAdmin: role == domain.RoleAdmin}); err != nil {
		log.Fatalf("Failed to set portal claims: %v", err)
	}
	fmt.Printf("Set %s=%t on the portal account\n", domain.ClaimIsAdmin, role == domain.RoleAdmin)
}
