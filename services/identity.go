package services

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/envhub/envhub/internal/config"
)

// IdentityProvider is the bridge to the external identity provider. Faked in
// tests; backed by Firebase Auth in production.
type IdentityProvider interface {
	CreateIdpUser(ctx context.Context, email, name, password string) (string, error)
	DeleteIdpUser(ctx context.Context, uid string) error
}

// FirebaseIdentityService creates and deletes accounts in Firebase Auth.
type FirebaseIdentityService struct {
	client *auth.Client
}

// NewFirebaseIdentityService initializes the Firebase app from the configured
// service-account credentials file.
func NewFirebaseIdentityService(ctx context.Context) (*FirebaseIdentityService, error) {
	credsFile := config.App.FirebaseCredentialsFile
	if credsFile == "" {
		credsFile = "firebase-service-account-key.json"
	}
	opt := option.WithCredentialsFile(credsFile)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth client: %w", err)
	}
	return &FirebaseIdentityService{client: client}, nil
}

// CreateIdpUser creates the account and returns the provider uid.
func (s *FirebaseIdentityService) CreateIdpUser(ctx context.Context, email, name, password string) (string, error) {
	params := (&auth.UserToCreate{}).
		Email(email).
		DisplayName(name).
		Password(password)

	record, err := s.client.CreateUser(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create identity provider user: %w", err)
	}
	log.Printf("identity: created idp user %s for %s", record.UID, email)
	return record.UID, nil
}

// DeleteIdpUser removes the account from the identity provider.
func (s *FirebaseIdentityService) DeleteIdpUser(ctx context.Context, uid string) error {
	if err := s.client.DeleteUser(ctx, uid); err != nil {
		return fmt.Errorf("failed to delete identity provider user: %w", err)
	}
	return nil
}
