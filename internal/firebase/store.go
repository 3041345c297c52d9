// Package firebase connects the engine to the hosted Firestore database and
// to Firebase Cloud Messaging.
package firebase

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/t77yq/safewatch/internal/model"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("document not found")

// Config holds the Firebase project settings
type Config struct {
	ProjectID       string
	CredentialsFile string
}

// NewApp initializes a Firebase app. Without a credentials file the
// application default credentials are used.
func NewApp(ctx context.Context, cfg Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	return app, nil
}

// Store reads rules and profiles from Firestore and writes alerts to it
type Store struct {
	logger *zap.Logger
	client *firestore.Client
}

// NewStore creates a store on the app's Firestore database
func NewStore(ctx context.Context, app *firebase.App, logger *zap.Logger) (*Store, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &Store{
		logger: logger.Named("firestore"),
		client: client,
	}, nil
}

// AcceptedActiveRules returns the accepted assignments of active rules for
// a protected user. Malformed assignments are skipped.
func (s *Store) AcceptedActiveRules(ctx context.Context, userID string) ([]model.AssignedRule, error) {
	docs, err := s.client.Collection(CollectionAssignments).
		Where("protectedId", "==", userID).
		Where("isAccepted", "==", true).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query rule assignments: %w", err)
	}

	assignments := make([]model.RuleAssignment, 0, len(docs))
	refs := make([]*firestore.DocumentRef, 0, len(docs))
	for _, doc := range docs {
		var d assignmentDoc
		if err := doc.DataTo(&d); err != nil {
			s.logger.Warn("Skipping unreadable rule assignment", zap.String("id", doc.Ref.ID), zap.Error(err))
			continue
		}
		a, err := d.toModel(doc.Ref.ID)
		if err != nil {
			s.logger.Warn("Skipping rule assignment with invalid window", zap.String("id", doc.Ref.ID), zap.Error(err))
			continue
		}
		assignments = append(assignments, a)
		refs = append(refs, s.client.Collection(CollectionRules).Doc(a.RuleID))
	}
	if len(refs) == 0 {
		return nil, nil
	}

	ruleDocs, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rules: %w", err)
	}

	var rules []model.AssignedRule
	for i, doc := range ruleDocs {
		if !doc.Exists() {
			continue
		}
		var d ruleDoc
		if err := doc.DataTo(&d); err != nil {
			s.logger.Warn("Skipping unreadable rule", zap.String("id", doc.Ref.ID), zap.Error(err))
			continue
		}
		if !d.IsActive {
			continue
		}
		rules = append(rules, model.AssignedRule{
			Rule:       d.toModel(doc.Ref.ID),
			Assignment: assignments[i],
		})
	}
	return rules, nil
}

// Profile returns the engine settings of a protected user
func (s *Store) Profile(ctx context.Context, userID string) (*model.Profile, error) {
	doc, err := s.client.Collection(CollectionUsers).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var d userDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	p := d.toProfile(userID)
	return &p, nil
}

// CreateAlert writes a new alert document and returns its ID
func (s *Store) CreateAlert(ctx context.Context, alert *model.Alert) (string, error) {
	coll := s.client.Collection(CollectionAlerts)
	ref := coll.NewDoc()
	if alert.ID != "" {
		ref = coll.Doc(alert.ID)
	}

	if _, err := ref.Create(ctx, newAlertDoc(alert)); err != nil {
		return "", fmt.Errorf("failed to create alert: %w", err)
	}
	return ref.ID, nil
}

// MonitorTokens returns the FCM tokens of every monitor linked to the
// protected user
func (s *Store) MonitorTokens(ctx context.Context, protectedID string) ([]string, error) {
	links, err := s.client.Collection(CollectionLinks).
		Where("protectedId", "==", protectedID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}

	seen := make(map[string]struct{})
	var refs []*firestore.DocumentRef
	for _, doc := range links {
		var d linkDoc
		if err := doc.DataTo(&d); err != nil || d.MonitorID == "" {
			continue
		}
		if _, ok := seen[d.MonitorID]; ok {
			continue
		}
		seen[d.MonitorID] = struct{}{}
		refs = append(refs, s.client.Collection(CollectionUsers).Doc(d.MonitorID))
	}
	if len(refs) == 0 {
		return nil, nil
	}

	users, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch monitors: %w", err)
	}

	var tokens []string
	for _, doc := range users {
		if !doc.Exists() {
			continue
		}
		var d userDoc
		if err := doc.DataTo(&d); err != nil || d.FCMToken == "" {
			continue
		}
		tokens = append(tokens, d.FCMToken)
	}
	return tokens, nil
}

// Close closes the Firestore client
func (s *Store) Close() error {
	return s.client.Close()
}
