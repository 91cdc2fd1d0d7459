package cli

import (
	"context"
	"fmt"
)

// getStatus renders the prompt prefix, e.g. "(alice online)".
func (a *App) getStatus() string {
	mode := modeName(a.engine.Online())
	if u := a.engine.User().Username; u != "" {
		return fmt.Sprintf("(%s %s)", u, mode)
	}
	return fmt.Sprintf("(%s)", mode)
}

// Root greets the user and hands over to the REPL.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "Welcome to ledgersync (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.reader, a.out)
}
