package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/ledgersync/internal/client/config"
	"github.com/dmitrijs2005/ledgersync/internal/client/engine"
	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/services"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
)

// Engine is the part of *engine.SyncEngine the CLI drives.
type Engine interface {
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error

	Register(ctx context.Context, username string, password []byte) error
	Login(ctx context.Context, username string, password []byte) (services.Identity, error)
	Logout(ctx context.Context) error
	User() services.Identity

	Categories() *services.Collection[models.Category]
	EntityTypes() []string
	SyncNow(ctx context.Context) error
	Status(entityType string) (engine.SyncStatus, bool)
	Pending(ctx context.Context, entityType string) (int, error)

	Online() bool
	OnConnectivityChange(fn func(online bool)) (unsubscribe func())
	ReportConnectivity(online bool)
}

var _ Engine = (*engine.SyncEngine)(nil)

type App struct {
	config *config.Config
	engine Engine
	reader *bufio.Reader
	out    io.Writer
}

// NewApp opens the sync engine described by c. Output goes to stdout; logs
// go wherever log points.
func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	e, err := engine.New(ctx, c, log)
	if err != nil {
		return nil, err
	}
	return newApp(c, e, os.Stdin, os.Stdout), nil
}

func newApp(c *config.Config, e Engine, in io.Reader, out io.Writer) *App {
	return &App{config: c, engine: e, reader: bufio.NewReader(in), out: out}
}

// Run starts the engine, serves the REPL until the user exits or input ends,
// then shuts the engine down.
func (a *App) Run(ctx context.Context) error {
	unsubscribe := a.engine.OnConnectivityChange(func(online bool) {
		fmt.Fprintf(a.out, "\nSwitched to %s mode\n", modeName(online))
	})
	defer unsubscribe()

	a.engine.Start(ctx)
	a.Root(ctx)
	return a.engine.Shutdown(context.WithoutCancel(ctx))
}

func (a *App) isLoggedIn() bool {
	return a.engine.User().UserID != ""
}

func modeName(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
