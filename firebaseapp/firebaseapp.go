// Package firebaseapp initialises the Firebase Admin SDK for token
// verification and the Firestore script store.
package firebaseapp

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// App wraps an initialised Firebase app.
type App struct {
	app *firebase.App
}

// New initialises Firebase for projectID. An empty credentialsFile falls
// back to Application Default Credentials, which also covers the emulators.
func New(ctx context.Context, projectID, credentialsFile string) (*App, error) {
	if projectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return &App{app: app}, nil
}

func (a *App) Auth(ctx context.Context) (*auth.Client, error) {
	c, err := a.app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return c, nil
}

// Firestore returns a client the caller must Close.
func (a *App) Firestore(ctx context.Context) (*firestore.Client, error) {
	c, err := a.app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return c, nil
}
