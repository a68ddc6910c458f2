// README: Firebase Admin SDK token verification; the role custom claim identifies the actor.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// FirebaseToken is a verified caller. UID becomes the actor id recorded on history rows and claims;
// the "role" custom claim decides which route group the caller may reach.
type FirebaseToken struct {
	UID    string
	Claims map[string]interface{}
}

// Role returns the "role" custom claim. A missing or non-string claim yields "", which no route group
// accepts, so a token without a role set by the admin tooling can authenticate but never act.
func (t *FirebaseToken) Role() string {
	if t == nil || t.Claims == nil {
		return ""
	}
	role, _ := t.Claims["role"].(string)
	return role
}

// TokenVerifier turns a bearer credential into a caller. Tests substitute their own.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

type firebaseVerifier struct {
	client *auth.Client
}

// NewFirebaseVerifier checks ID tokens issued for projectID. Without credentialsFile the
// application-default credentials are used.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (TokenVerifier, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &FirebaseToken{UID: token.UID, Claims: token.Claims}, nil
}
