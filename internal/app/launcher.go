package app

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"hermes/internal/tabular"
	"hermes/pkg/logx"
)

// ErrNoLinksFile is returned by Launch when neither a path nor
// dispatch.links_file is given.
var ErrNoLinksFile = errors.New("no links file given and dispatch.links_file is empty")

// Launch loads a links file (the configured one when path is empty) and
// starts a run over the configured devices. It implements the launcher of
// the chat commands and the scheduled trigger.
func (a *App) Launch(ctx context.Context, path, source string) (string, int, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(a.Config().Dispatch.LinksFile)
	}
	if path == "" {
		return "", 0, ErrNoLinksFile
	}
	links, err := tabular.LoadLinks(path)
	if err != nil {
		return "", 0, err
	}
	id, err := a.Run(ctx, links, source)
	if err != nil {
		return "", 0, err
	}
	return id, len(links), nil
}

// Run starts a run over links and labels it with source in history.
func (a *App) Run(ctx context.Context, links []string, source string) (string, error) {
	if a.sup == nil {
		return "", errors.New("app not started")
	}
	devices := a.Devices()
	id, err := a.sched.Start(ctx, links, devices)
	if err != nil {
		return "", err
	}
	if a.rec != nil {
		a.rec.Label(ctx, id, source)
	}
	a.log.Info("run started",
		logx.String("run", id),
		logx.String("source", source),
		logx.Int("links", len(links)),
		logx.Strings("devices", devices),
	)
	return id, nil
}
