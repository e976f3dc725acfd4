package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tidwall/pretty"
	"github.com/urfave/cli/v3"

	"github.com/starford/rulestore/internal"
	"github.com/starford/rulestore/internal/checksum"
	"github.com/starford/rulestore/internal/store"
	pkgconfig "github.com/starford/rulestore/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.Root().String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stdin(cmd *cli.Command) io.Reader {
	if r := cmd.Root().Reader; r != nil {
		return r
	}
	return os.Stdin
}

// withStore opens the configured store for a one-shot command and flushes
// it before returning, so every change reaches disk before the process
// exits.
func withStore(fn func(ctx context.Context, cmd *cli.Command, st *store.Store) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

		st, err := internal.OpenStore(cfg, logger)
		if err != nil {
			return err
		}
		runErr := fn(ctx, cmd, st)
		if err := internal.FlushStore(cfg, st, logger); err != nil && runErr == nil {
			return err
		}
		return runErr
	}
}

func args(cmd *cli.Command, names ...string) ([]string, error) {
	if cmd.Args().Len() != len(names) {
		return nil, fmt.Errorf("%s: expected arguments %v", cmd.Name, names)
	}
	return cmd.Args().Slice(), nil
}

func printJSON(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(pretty.Pretty(raw))
	return err
}

func readContent(cmd *cli.Command) ([]byte, error) {
	if path := cmd.String("file"); path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(stdin(cmd))
}

func fileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Usage:   "Read content from this file instead of stdin",
	}
}

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Serve the store over MCP on stdio",
			Action: serve,
		},
		{
			Name:  "ls",
			Usage: "List files in display order",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
			},
			Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
				files := st.RawFileList()
				w := stdout(cmd)
				if cmd.Bool("json") {
					type entry struct {
						Index uint64 `json:"index"`
						Name  string `json:"name"`
						Size  int    `json:"size"`
					}
					out := make([]entry, 0, len(files))
					for _, f := range files {
						out = append(out, entry{Index: f.Index, Name: f.Name, Size: len(f.Data)})
					}
					return printJSON(w, out)
				}
				for _, f := range files {
					fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", f.Index, len(f.Data), checksum.Short(f.Data), f.Name)
				}
				return nil
			}),
		},
		{
			Name:  "count",
			Usage: "Print the number of files",
			Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
				fmt.Fprintln(stdout(cmd), st.Count())
				return nil
			}),
		},
		{
			Name:      "cat",
			Usage:     "Print the content of a file",
			ArgsUsage: "NAME",
			Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
				a, err := args(cmd, "NAME")
				if err != nil {
					return err
				}
				data, err := st.ReadFile(a[0])
				if err != nil {
					return fmt.Errorf("%s: %w", a[0], err)
				}
				_, err = stdout(cmd).Write(data)
				return err
			}),
		},
		{
			Name:      "put",
			Usage:     "Create or replace a file",
			ArgsUsage: "NAME",
			Flags:     []cli.Flag{fileFlag()},
			Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
				a, err := args(cmd, "NAME")
				if err != nil {
					return err
				}
				data, err := readContent(cmd)
				if err != nil {
					return err
				}
				f := st.WriteFile(a[0], data)
				fmt.Fprintf(stdout(cmd), "%d\t%s\n", f.Index, f.Name)
				return nil
			}),
		},
		{
			Name:      "update",
			Usage:     "Replace the content of an existing file",
			ArgsUsage: "NAME",
			Flags:     []cli.Flag{fileFlag()},
			Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
				a, err := args(cmd, "NAME")
				if err != nil {
					return err
				}
				data, err := readContent(cmd)
				if err != nil {
					return err
				}
				if _, err := st.UpdateFile(a[0], data); err != nil {
					return fmt.Errorf("%s: %w", a[0], err)
				}
				return nil
			}),
		},
		{
			Name:      "rm",
			Usage:     "Remove a file",
			ArgsUsage: "NAME",
			Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
				a, err := args(cmd, "NAME")
				if err != nil {
					return err
				}
				if err := st.RemoveFile(a[0]); err != nil {
					return fmt.Errorf("%s: %w", a[0], err)
				}
				return nil
			}),
		},
		{
			Name:      "mv",
			Usage:     "Rename a file",
			ArgsUsage: "NAME NEW_NAME",
			Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
				a, err := args(cmd, "NAME", "NEW_NAME")
				if err != nil {
					return err
				}
				if err := st.RenameFile(a[0], a[1]); err != nil {
					return fmt.Errorf("%s -> %s: %w", a[0], a[1], err)
				}
				return nil
			}),
		},
		{
			Name:      "resync",
			Usage:     "Rewrite the slot of a file from its loaded content",
			ArgsUsage: "NAME",
			Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
				a, err := args(cmd, "NAME")
				if err != nil {
					return err
				}
				if err := st.Resync(a[0]); err != nil {
					return fmt.Errorf("%s: %w", a[0], err)
				}
				return nil
			}),
		},
		{
			Name:      "move",
			Usage:     "Move a file to the display position of another file",
			ArgsUsage: "FROM TO",
			Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
				a, err := args(cmd, "FROM", "TO")
				if err != nil {
					return err
				}
				if err := st.MoveTo(a[0], a[1]); err != nil {
					return fmt.Errorf("%s -> %s: %w", a[0], a[1], err)
				}
				return nil
			}),
		},
		{
			Name:  "prop",
			Usage: "Read and change properties",
			Commands: []*cli.Command{
				{
					Name:      "get",
					Usage:     "Print a property as JSON",
					ArgsUsage: "KEY",
					Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
						a, err := args(cmd, "KEY")
						if err != nil {
							return err
						}
						v, ok := st.GetProperty(a[0])
						if !ok {
							return fmt.Errorf("%s: property not set", a[0])
						}
						return printJSON(stdout(cmd), v)
					}),
				},
				{
					Name:      "set",
					Usage:     "Set a property to a JSON value",
					ArgsUsage: "KEY JSON",
					Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
						a, err := args(cmd, "KEY", "JSON")
						if err != nil {
							return err
						}
						var v any
						if err := json.Unmarshal([]byte(a[1]), &v); err != nil {
							return fmt.Errorf("%s: value is not valid JSON: %w", a[0], err)
						}
						if err := st.SetProperty(a[0], v); err != nil {
							return fmt.Errorf("%s: %w", a[0], err)
						}
						return nil
					}),
				},
				{
					Name:      "rm",
					Usage:     "Remove a property",
					ArgsUsage: "KEY",
					Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
						a, err := args(cmd, "KEY")
						if err != nil {
							return err
						}
						if err := st.RemoveProperty(a[0]); err != nil {
							return fmt.Errorf("%s: %w", a[0], err)
						}
						return nil
					}),
				},
				{
					Name:  "ls",
					Usage: "Print all properties as JSON",
					Action: withStore(func(_ context.Context, cmd *cli.Command, st *store.Store) error {
						return printJSON(stdout(cmd), st.Properties())
					}),
				},
			},
		},
	}
}
