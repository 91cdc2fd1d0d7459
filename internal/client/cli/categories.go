package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/common"
)

// Add creates a category: add <name> [color] [icon]. Multi-word names are
// not supported on the command line; use rename afterwards.
func (a *App) Add(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	if len(args) == 0 || len(args) > 3 {
		return errors.New("usage: add <name> [color] [icon]")
	}
	c := models.Category{Name: args[0]}
	if len(args) > 1 {
		c.Color = args[1]
	}
	if len(args) > 2 {
		c.Icon = args[2]
	}

	cats := a.engine.Categories()
	if _, err := cats.Find(ctx, c); err == nil {
		return fmt.Errorf("category %q already exists", c.Name)
	} else if !errors.Is(err, common.ErrorNotFound) {
		return err
	}

	rec, err := cats.Create(ctx, c)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added category %d\n", rec.LocalID)
	return nil
}

// Rename changes a category name: rename <id> <name...>.
func (a *App) Rename(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: rename <id> <name>")
	}
	name := strings.Join(args[1:], " ")
	return a.edit(ctx, args[0], func(c *models.Category) { c.Name = name })
}

// Recolor changes a category color: recolor <id> <color>.
func (a *App) Recolor(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: recolor <id> <color>")
	}
	return a.edit(ctx, args[0], func(c *models.Category) { c.Color = args[1] })
}

func (a *App) edit(ctx context.Context, idArg string, change func(*models.Category)) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	id, err := parseID(idArg)
	if err != nil {
		return err
	}

	cats := a.engine.Categories()
	rec, err := cats.Get(ctx, id)
	if err != nil {
		return notFound(id, err)
	}
	c := rec.Payload
	change(&c)
	if err := cats.Update(ctx, id, c); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated category %d\n", id)
	return nil
}

// Delete removes a category: delete <id>.
func (a *App) Delete(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	if len(args) != 1 {
		return errors.New("usage: delete <id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := a.engine.Categories().Delete(ctx, id); err != nil {
		return notFound(id, err)
	}
	fmt.Fprintf(a.out, "Deleted category %d\n", id)
	return nil
}

// List prints live categories; unsynced ones are flagged with '*'.
func (a *App) List(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	recs, err := a.engine.Categories().Query(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(a.out, "No categories")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCOLOR\tICON\t")
	for _, r := range recs {
		mark := ""
		if r.Dirty {
			mark = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.LocalID, r.Payload.Name, r.Payload.Color, r.Payload.Icon, mark)
	}
	return w.Flush()
}

// Sync runs a sync of every entity type and waits for it.
func (a *App) Sync(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	if err := a.engine.SyncNow(ctx); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Fprintln(a.out, "Sync complete")
	return nil
}

// Status prints the signed-in user, connectivity and per-entity sync state.
func (a *App) Status(ctx context.Context) error {
	user := a.engine.User()
	if user.UserID == "" {
		fmt.Fprintf(a.out, "Not logged in, %s\n", modeName(a.engine.Online()))
		return nil
	}
	fmt.Fprintf(a.out, "User: %s, %s\n", user.Username, modeName(a.engine.Online()))

	for _, et := range a.engine.EntityTypes() {
		s, ok := a.engine.Status(et)
		if !ok {
			continue
		}
		pending, err := a.engine.Pending(ctx, et)
		if err != nil {
			return err
		}

		last := "never"
		if !s.LastAt.IsZero() {
			last = fmt.Sprintf("%s at %s", s.LastKind, s.LastAt.Local().Format(time.DateTime))
		}
		fmt.Fprintf(a.out, "  %s: %s, %d pending, last sync %s\n", et, s.State, pending, last)
		if s.LastErr != nil {
			fmt.Fprintf(a.out, "    last error: %v\n", s.LastErr)
		}
	}
	return nil
}

// SetOnline reports connectivity observed by the user.
func (a *App) SetOnline(online bool) {
	a.engine.ReportConnectivity(online)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func notFound(id int64, err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("category %d not found", id)
	}
	return err
}
