package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"quill/api/internal/chapter"
	"quill/api/internal/client"
	"quill/api/internal/config"
	"quill/api/internal/store"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "quillctl",
		Usage: "operate a quill chapter store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Value:   "http://localhost:8787",
				EnvVars: []string{"QUILL_API_URL"},
				Usage:   "base URL of the quill API",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Value:   time.Minute,
				EnvVars: []string{"QUILL_TIMEOUT"},
				Usage:   "deadline of each command",
			},
		},
		Commands: []*cli.Command{
			exportCommand(),
			importCommand(),
			metaCommand(),
			textCommand(),
			chaptersCommand(),
			migrateCommand(),
		},
	}
}

func apiClient(ctx *cli.Context) (*client.Client, error) {
	base, err := url.Parse(ctx.String("api"))
	if err != nil {
		return nil, errors.Wrap(err, "could not parse api url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("api url %q must be absolute", ctx.String("api"))
	}
	return client.New(client.WithBaseURL(base)), nil
}

func commandContext(ctx *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Context, ctx.Duration("timeout"))
}

func nameFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "name",
		Aliases:  []string{"n"},
		Required: true,
		Usage:    "chapter name as \"story:chapter\"",
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write the serialized form of a chapter",
		Flags: []cli.Flag{
			nameFlag(),
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file; stdout when empty"},
		},
		Action: func(ctx *cli.Context) error {
			c, err := apiClient(ctx)
			if err != nil {
				return err
			}
			callCtx, cancel := commandContext(ctx)
			defer cancel()

			data, err := c.Serialize(callCtx, ctx.String("name"))
			if err != nil {
				return errors.Wrap(err, "could not serialize chapter")
			}
			if out := ctx.String("out"); out != "" {
				if err := os.WriteFile(out, []byte(data), 0o644); err != nil {
					return errors.WithStack(err)
				}
				return nil
			}
			_, err = fmt.Fprintln(ctx.App.Writer, data)
			return errors.WithStack(err)
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "restore an exported chapter into an uninitialized key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "file written by export"},
		},
		Action: func(ctx *cli.Context) error {
			raw, err := os.ReadFile(ctx.String("file"))
			if err != nil {
				return errors.WithStack(err)
			}
			var header struct {
				StoryTitle   string `json:"story_title"`
				ChapterTitle string `json:"chapter_title"`
			}
			if err := json.Unmarshal(raw, &header); err != nil {
				return errors.Wrap(err, "could not read chapter titles")
			}
			if header.StoryTitle == "" || header.ChapterTitle == "" {
				return errors.New("export file has no story_title or chapter_title")
			}

			c, err := apiClient(ctx)
			if err != nil {
				return err
			}
			callCtx, cancel := commandContext(ctx)
			defer cancel()

			name := chapter.Key(header.StoryTitle, header.ChapterTitle)
			meta, err := c.Restore(callCtx, name, string(raw))
			if err != nil {
				return errors.Wrapf(err, "could not restore %s", name)
			}
			_, err = fmt.Fprintf(ctx.App.Writer, "restored %s at version %d\n", meta.Title, meta.Version)
			return errors.WithStack(err)
		},
	}
}

func metaCommand() *cli.Command {
	return &cli.Command{
		Name:  "meta",
		Usage: "print chapter metadata as JSON",
		Flags: []cli.Flag{nameFlag()},
		Action: func(ctx *cli.Context) error {
			c, err := apiClient(ctx)
			if err != nil {
				return err
			}
			callCtx, cancel := commandContext(ctx)
			defer cancel()

			meta, err := c.Meta(callCtx, ctx.String("name"))
			if err != nil {
				return errors.Wrap(err, "could not fetch metadata")
			}
			return printJSON(ctx, meta)
		},
	}
}

func textCommand() *cli.Command {
	return &cli.Command{
		Name:  "text",
		Usage: "print a chapter snapshot",
		Flags: []cli.Flag{
			nameFlag(),
			&cli.IntFlag{Name: "version", Aliases: []string{"v"}, Usage: "snapshot index; latest when unset"},
			&cli.BoolFlag{Name: "html", Usage: "print the rendered HTML"},
		},
		Action: func(ctx *cli.Context) error {
			c, err := apiClient(ctx)
			if err != nil {
				return err
			}
			callCtx, cancel := commandContext(ctx)
			defer cancel()

			var version *int
			if ctx.IsSet("version") {
				v := ctx.Int("version")
				version = &v
			}
			read := c.Text
			if ctx.Bool("html") {
				read = c.HTML
			}
			text, err := read(callCtx, ctx.String("name"), version)
			if err != nil {
				return errors.Wrap(err, "could not read snapshot")
			}
			_, err = fmt.Fprint(ctx.App.Writer, text)
			return errors.WithStack(err)
		},
	}
}

func chaptersCommand() *cli.Command {
	return &cli.Command{
		Name:      "chapters",
		Usage:     "list the chapters of a story",
		ArgsUsage: "<story title>",
		Action: func(ctx *cli.Context) error {
			story := ctx.Args().First()
			if story == "" {
				return errors.New("story title is required")
			}
			c, err := apiClient(ctx)
			if err != nil {
				return err
			}
			callCtx, cancel := commandContext(ctx)
			defer cancel()

			entries, err := c.StoryChapters(callCtx, story)
			if err != nil {
				return errors.Wrap(err, "could not list chapters")
			}
			return printJSON(ctx, entries)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply database migrations using DATABASE_URL and MIGRATIONS_DIR",
		Action: func(ctx *cli.Context) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			callCtx, cancel := commandContext(ctx)
			defer cancel()

			db, err := store.Open(callCtx, cfg.DatabaseURL)
			if err != nil {
				return errors.Wrap(err, "could not connect to database")
			}
			defer db.Close()
			migrations, err := store.Migrations(cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if err := store.ApplyMigrations(callCtx, db, migrations); err != nil {
				return errors.Wrap(err, "could not apply migrations")
			}
			_, err = fmt.Fprintln(ctx.App.Writer, "migrations applied")
			return errors.WithStack(err)
		},
	}
}

func printJSON(ctx *cli.Context, v any) error {
	encoder := json.NewEncoder(ctx.App.Writer)
	encoder.SetIndent("", "  ")
	return errors.WithStack(encoder.Encode(v))
}
