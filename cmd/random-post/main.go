// random-post submits a random room to a running board's /party endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/stake-plus/roomboard/src/logging"
	"github.com/stake-plus/roomboard/src/webclient"
)

const (
	digits   = "0123456789"
	letters  = "abcdefghijklmnopqrstuvwxyz "
	attempts = 4
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:  "random-post",
		Usage: "post a random room to the board",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", EnvVars: []string{"DEBUG"}},
			&cli.StringFlag{Name: "url", Value: "http://127.0.0.1:8000/party", EnvVars: []string{"BOARD_PARTY_URL"}},
			&cli.StringFlag{Name: "backend-secret", Required: true, EnvVars: []string{"BACKEND_SECRET"}},
			&cli.StringFlag{Name: "id", Usage: "room id (random 7 digits by default)"},
			&cli.StringFlag{Name: "owner", Usage: "owner name"},
			&cli.StringFlag{Name: "message"},
			&cli.Int64Flag{Name: "time", Usage: "unix seconds (now by default)"},
		},
		Before: func(cctx *cli.Context) error {
			return logging.Setup(cctx.Bool("debug"))
		},
		Action: run,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	defer func() { _ = zap.L().Sync() }()

	room, err := randomRoom(time.Now())
	if err != nil {
		return err
	}
	override(room, "id", cctx.String("id"))
	override(room, "message", cctx.String("message"))
	if name := cctx.String("owner"); name != "" {
		room["owner"].(map[string]any)["name"] = name
	}
	if ts := cctx.Int64("time"); ts != 0 {
		room["time"] = ts
	}

	header := http.Header{}
	header.Set("X-Authorization-Token", cctx.String("backend-secret"))
	client := webclient.NewDefault(10 * time.Second)

	status, body, err := webclient.DoWithRetry(cctx.Context, attempts, time.Second, func() (int, []byte, error) {
		return webclient.PostJSON(cctx.Context, client, cctx.String("url"), header, room)
	})
	if err != nil {
		return fmt.Errorf("post room: %w", err)
	}
	fmt.Println(status, http.StatusText(status))
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

func override(room map[string]any, key, value string) {
	if value != "" {
		room[key] = value
	}
}

// randomRoom builds a submission with a 7 digit id, a random owner and a
// bare guild name.
func randomRoom(now time.Time) (map[string]any, error) {
	id, err := gonanoid.Generate(digits, 7)
	if err != nil {
		return nil, err
	}
	ownerID, err := gonanoid.Generate(digits, 7)
	if err != nil {
		return nil, err
	}
	message, err := gonanoid.Generate(letters, 20)
	if err != nil {
		return nil, err
	}
	ownerName, err := gonanoid.Generate(letters, 10)
	if err != nil {
		return nil, err
	}
	guild, err := gonanoid.Generate(letters, 10)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":      id,
		"time":    now.Unix(),
		"message": message,
		"owner":   map[string]any{"id": ownerID, "name": strings.ToUpper(ownerName)},
		"guild":   guild,
	}, nil
}
