package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/credential"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyToken is returned when a login succeeds without yielding a token.
var ErrEmptyToken = errors.New("login returned an empty token")

// Authenticator performs the remote login for one account.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, username, password string) (string, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, username, password string) (string, error) {
	return f(ctx, username, password)
}

// Account is a username/password pair to log in with.
type Account struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	// Token, when set, is a pre-issued credential used by Preissued.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`
}

func (a Account) blank() bool {
	return strings.TrimSpace(a.Username) == "" || strings.TrimSpace(a.Password) == ""
}

// CredentialWriter is the part of credential.Store the seeder writes through.
type CredentialWriter interface {
	Get(ctx context.Context, username string) (credential.Record, error)
	Insert(ctx context.Context, username, password, token string) error
	UpdateField(ctx context.Context, username, field string, value any) error
}

// Result counts what a Seed call did.
type Result struct {
	Inserted int64 `json:"inserted"`
	Failed   int64 `json:"failed"`
	Skipped  int64 `json:"skipped"`
}

// Seeder logs accounts in and stores the resulting credentials.
type Seeder struct {
	auth        Authenticator
	store       CredentialWriter
	concurrency int
}

// NewSeeder builds a seeder running at most concurrency logins at a time.
func NewSeeder(auth Authenticator, store CredentialWriter, concurrency int) *Seeder {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Seeder{auth: auth, store: store, concurrency: concurrency}
}

// Seed logs in every account up to the first blank one and inserts each
// credential obtained. Individual login failures are counted, not returned;
// the error is non-nil only when ctx ends.
func (s *Seeder) Seed(ctx context.Context, accounts []Account) (Result, error) {
	var inserted, failed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, acc := range accounts {
		if acc.blank() {
			log.WithField("line", i+1).Info("blank account, stopping seed batch")
			break
		}
		acc := acc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			switch err := s.seedOne(gctx, acc); {
			case err == nil:
				inserted.Add(1)
			case errors.Is(err, ErrEmptyToken):
				skipped.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	return Result{Inserted: inserted.Load(), Failed: failed.Load(), Skipped: skipped.Load()}, err
}

func (s *Seeder) seedOne(ctx context.Context, acc Account) error {
	entry := log.WithField("username", acc.Username)
	token, err := s.auth.Authenticate(ctx, acc.Username, acc.Password)
	if err != nil {
		entry.WithError(err).Warn("login failed")
		return err
	}
	if strings.TrimSpace(token) == "" {
		entry.Warn("login returned no token, account skipped")
		return ErrEmptyToken
	}
	if err := s.store.Insert(ctx, acc.Username, acc.Password, token); err != nil {
		entry.WithError(err).Error("storing credential failed")
		return err
	}
	return nil
}

// Reauthenticate logs username in again with its stored password and patches
// the new token in place. Occupancy and login_time are untouched, so a
// credential checked out by a running session stays checked out.
func (s *Seeder) Reauthenticate(ctx context.Context, username string) (string, error) {
	rec, err := s.store.Get(ctx, username)
	if err != nil {
		return "", fmt.Errorf("reauthenticate %s: %w", username, err)
	}
	token, err := s.auth.Authenticate(ctx, username, rec.Password)
	if err != nil {
		return "", fmt.Errorf("reauthenticate %s: %w", username, err)
	}
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("reauthenticate %s: %w", username, ErrEmptyToken)
	}
	if err := s.store.UpdateField(ctx, username, credential.FieldToken, token); err != nil {
		return "", fmt.Errorf("reauthenticate %s: %w", username, err)
	}
	log.WithField("username", username).Info("credential token refreshed")
	return token, nil
}

// Preissued authenticates from tokens already present on the accounts, for
// seeding a store from a file without contacting the service under test.
func Preissued(accounts []Account) Authenticator {
	tokens := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		tokens[a.Username] = a
	}
	return AuthenticatorFunc(func(_ context.Context, username, password string) (string, error) {
		a, ok := tokens[username]
		if !ok || a.Password != password {
			return "", fmt.Errorf("no pre-issued token for %s", username)
		}
		return a.Token, nil
	})
}
