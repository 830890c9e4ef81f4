package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/NicolasHaas/randchat/pkg/client"
	"github.com/NicolasHaas/randchat/pkg/logging"
	"github.com/NicolasHaas/randchat/ui"
)

func main() {
	// Level and format come from RANDCHAT_LOG_LEVEL / RANDCHAT_LOG_FORMAT (default: info, text).
	_ = logging.Setup(logging.FromEnv(logging.Options{Output: os.Stdout}))

	path := os.Getenv("RANDCHAT_CONFIG")
	if path == "" {
		path = client.DefaultSettingsPath()
	}
	settings, err := client.LoadSettings(path)
	if err != nil {
		slog.Error("load settings", "path", path, "err", err)
		os.Exit(1)
	}

	st, err := settings.OpenStore(filepath.Dir(path))
	if err != nil {
		slog.Error("open profile store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	app := ui.NewApp(settings, path, st)
	app.Run()
}
