package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/client/client"
	"github.com/dmitrijs2005/ledgersync/internal/client/engine"
	"github.com/dmitrijs2005/ledgersync/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

var errNotLoggedIn = errors.New("please login first")

// Register prompts for a username and password and creates the account on
// the server. The password is wiped before returning.
func (a *App) Register(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.engine.Register(ctx, userName, password); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Success! You can login now.")
	return nil
}

// Login prompts for credentials and signs in. The engine tries the server
// first and falls back to the cached credentials when it is unreachable.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	id, err := a.engine.Login(ctx, userName, password)
	switch {
	case errors.Is(err, engine.ErrForeignData):
		return fmt.Errorf("%w (logout wipes this device, unsynced changes are lost)", err)
	case errors.Is(err, client.ErrLocalDataNotAvailable):
		return fmt.Errorf("server unreachable and no offline data for %q", userName)
	case err != nil:
		return err
	}

	fmt.Fprintf(a.out, "Logged in as %s (%s)\n", id.Username, modeName(id.Online))
	return nil
}

// Logout wipes everything the signed-in user left on this device.
func (a *App) Logout(ctx context.Context) error {
	if err := a.engine.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out, local data cleared")
	return nil
}
