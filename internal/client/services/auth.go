// Package services contains application services for the ledgersync client.
// This file defines the authentication service: online/offline login,
// register, liveness probe, and housekeeping of the cached session.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/client/client"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/cryptox"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/google/uuid"
)

// Identity is the signed-in user as seen by the client.
type Identity struct {
	UserID   string
	Username string
	// Online is false when the identity was restored from the local cache.
	Online bool
}

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - OnlineLogin: authenticate against the server and cache the session
//     and offline credentials.
//   - OfflineLogin: verify credentials against the local cache and restore
//     the cached session token.
//   - Register: create a new user on the server.
//   - Ping: check server liveness.
//   - Close: release underlying client resources.
type AuthService interface {
	OfflineLogin(ctx context.Context, username string, password []byte) (Identity, error)
	OnlineLogin(ctx context.Context, username string, password []byte) (Identity, error)
	Register(ctx context.Context, username string, password []byte) error
	CachedUsername(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type authService struct {
	client client.Client
	db     *sql.DB
}

func NewAuthService(client client.Client, db *sql.DB) AuthService {
	return &authService{client: client, db: db}
}

func (a *authService) getMetadataRepo() metadata.Repository {
	return metadata.NewSQLiteRepository(a.db)
}

// CachedUsername returns the user whose data is in the local store, or "".
func (a *authService) CachedUsername(ctx context.Context) (string, error) {
	v, err := a.getMetadataRepo().Get(ctx, metadata.KeyUsername)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// OfflineLogin derives the verifier from (password, cached salt) and compares
// it with the cached verifier. On success the cached session token is handed
// to the client so queued changes can be pushed once the backend is reachable.
func (a *authService) OfflineLogin(ctx context.Context, username string, password []byte) (Identity, error) {
	repo := a.getMetadataRepo()

	values := map[string][]byte{}
	for _, k := range []string{metadata.KeyUsername, metadata.KeySalt, metadata.KeyVerifier, metadata.KeyUserID} {
		v, err := repo.Get(ctx, k)
		if err != nil {
			return Identity{}, err
		}
		if v == nil {
			return Identity{}, client.ErrLocalDataNotAvailable
		}
		values[k] = v
	}
	if string(values[metadata.KeyUsername]) != username {
		return Identity{}, client.ErrLocalDataNotAvailable
	}

	key := cryptox.DeriveMasterKey(password, values[metadata.KeySalt])
	defer common.WipeByteArray(key)
	if !cryptox.VerifierEqual(values[metadata.KeyVerifier], cryptox.MakeVerifier(key)) {
		return Identity{}, client.ErrAuth
	}

	token, err := repo.Get(ctx, metadata.KeyAuthToken)
	if err != nil {
		return Identity{}, err
	}
	if err := a.installDeviceID(ctx); err != nil {
		return Identity{}, err
	}
	userID := string(values[metadata.KeyUserID])
	a.client.SetSession(client.Session{AccessToken: string(token), UserID: userID})

	return Identity{UserID: userID, Username: username}, nil
}

// OnlineLogin authenticates against the server and caches the session plus
// the offline credentials (username, salt, verifier) in one transaction.
func (a *authService) OnlineLogin(ctx context.Context, username string, password []byte) (Identity, error) {
	salt, err := a.client.GetSalt(ctx, username)
	if err != nil {
		return Identity{}, fmt.Errorf("get salt error: %w", err)
	}

	key := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)
	verifier := cryptox.MakeVerifier(key)

	sess, err := a.client.Login(ctx, username, verifier)
	if err != nil {
		return Identity{}, fmt.Errorf("login error: %w", err)
	}

	if err := a.saveOfflineData(ctx, username, salt, verifier, sess); err != nil {
		return Identity{}, fmt.Errorf("offline data saving error: %w", err)
	}
	if err := a.installDeviceID(ctx); err != nil {
		return Identity{}, err
	}
	return Identity{UserID: sess.UserID, Username: username, Online: true}, nil
}

func (a *authService) saveOfflineData(ctx context.Context, username string, salt, verifier []byte, sess client.Session) error {
	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		for k, v := range map[string][]byte{
			metadata.KeyUsername:  []byte(username),
			metadata.KeySalt:      salt,
			metadata.KeyVerifier:  verifier,
			metadata.KeyUserID:    []byte(sess.UserID),
			metadata.KeyAuthToken: []byte(sess.AccessToken),
		} {
			if err := repo.Set(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// installDeviceID loads the device id, creating it on first use, and hands
// it to the client. The server uses it to make creates idempotent.
func (a *authService) installDeviceID(ctx context.Context) error {
	repo := a.getMetadataRepo()
	id, err := repo.Get(ctx, metadata.KeyDeviceID)
	if err != nil {
		return err
	}
	if id == nil {
		id = []byte(uuid.NewString())
		if err := repo.Set(ctx, metadata.KeyDeviceID, id); err != nil {
			return err
		}
	}
	a.client.SetDeviceID(string(id))
	return nil
}

// Register creates a new account on the server. It generates a random salt,
// derives a master key from the password, and sends salt and verifier.
func (a *authService) Register(ctx context.Context, username string, password []byte) error {
	salt := common.GenerateRandByteArray(cryptox.SaltSize)
	key := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)

	if err := a.client.Register(ctx, username, salt, cryptox.MakeVerifier(key)); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return fmt.Errorf("username %q is taken: %w", username, err)
		}
		return err
	}
	return nil
}

func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

func (a *authService) Close(ctx context.Context) error {
	return a.client.Close()
}

