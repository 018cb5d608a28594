package cmd

import (
	"context"
	"io"
	"os"

	json "github.com/goccy/go-json"

	"chunkledger/internal/config"
	"chunkledger/internal/core"
	"chunkledger/internal/logging"
)

// App carries the state shared by every command of one invocation.
type App struct {
	Out        io.Writer
	ConfigPath string
	// Config skips loading from ConfigPath when set.
	Config *config.Config
	// Open builds the service; tests swap it.
	Open func(ctx context.Context, cfg *config.Config) (*core.Service, error)
}

// New returns an App writing to stdout and opening real backends.
func New() *App {
	return &App{Out: os.Stdout, Open: core.Open}
}

func (a *App) init() error {
	if a.Config == nil {
		cfg, err := config.Load(a.ConfigPath)
		if err != nil {
			return err
		}
		a.Config = cfg
	}
	logging.Init(logging.Config{
		Level:     a.Config.Logging.Level,
		Format:    a.Config.Logging.Format,
		Caller:    a.Config.Logging.Caller,
		Timestamp: a.Config.Logging.Timestamp,
		Output:    os.Stderr,
	})
	return nil
}

// withService opens the service for the duration of fn.
func (a *App) withService(ctx context.Context, fn func(svc *core.Service) error) (err error) {
	svc, err := a.Open(ctx, a.Config)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(svc)
}

func (a *App) print(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
