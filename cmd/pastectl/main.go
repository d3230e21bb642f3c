// Command pastectl inspects and populates a paste storage directory without
// going through the HTTP server.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"pasteapi/internal/applog"
	"pasteapi/internal/config"
	"pasteapi/internal/service"
	"pasteapi/internal/storage"
	"pasteapi/internal/store"
)

const cliOrigin = "local:pastectl"

func main() {
	if err := newApp(os.Stdin, os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	cfg := config.Load()

	return &cli.App{
		Name:      "pastectl",
		Usage:     "inspect and populate a paste storage directory",
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Usage:   "storage root containing the posts and metadata directories",
				Value:   cfg.Storage.Root,
				EnvVars: []string{"STORAGE_ROOT"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "ls",
				Usage: "list stored posts",
				Action: func(c *cli.Context) error {
					st, err := openStore(c, cfg)
					if err != nil {
						return err
					}
					posts, err := st.List(c.Context)
					if err != nil {
						return err
					}

					tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "NAME\tSIZE\tCREATED\tORIGIN")
					for _, p := range posts {
						if !p.Meta.Known {
							fmt.Fprintf(tw, "%s\t?\t?\t?\n", p.Name)
							continue
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, strconv.FormatInt(p.Meta.Size, 10),
							p.Meta.CreatedAt.UTC().Format(time.RFC3339), p.Meta.Origin)
					}
					return tw.Flush()
				},
			},
			{
				Name:      "cat",
				Usage:     "write a post to stdout",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("cat needs exactly one post name", 2)
					}
					st, err := openStore(c, cfg)
					if err != nil {
						return err
					}
					rc, err := st.Fetch(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					defer rc.Close()
					_, err = io.Copy(c.App.Writer, rc)
					return err
				},
			},
			{
				Name:      "put",
				Usage:     "store FILE (or stdin) as a new post and print its name",
				ArgsUsage: "[FILE]",
				Action: func(c *cli.Context) error {
					// local input carries no transport preamble
					st, err := openStore(c, cfg, store.WithPreambleLen(0))
					if err != nil {
						return err
					}

					var in io.Reader = c.App.Reader
					if c.NArg() > 0 {
						f, err := os.Open(c.Args().First())
						if err != nil {
							return err
						}
						defer f.Close()
						in = f
					}

					svc := service.NewPostService(st, service.Config{Logger: applog.New(c.App.ErrWriter, time.UTC)})
					post, err := svc.Create(c.Context, in, cliOrigin)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, post.Name)
					return nil
				},
			},
			{
				Name:  "sync",
				Usage: "upload posts missing from the MinIO mirror",
				Action: func(c *cli.Context) error {
					if !cfg.MinIO.Enabled() {
						return errors.New("MINIO_ENDPOINT is not set")
					}
					st, err := openStore(c, cfg)
					if err != nil {
						return err
					}
					mirror, err := storage.NewMinIO(cfg.MinIO)
					if err != nil {
						return err
					}

					svc := service.NewPostService(st, service.Config{
						Mirror: mirror,
						Logger: applog.New(c.App.ErrWriter, time.UTC),
					})
					n, err := svc.SyncMirror(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "uploaded %d posts\n", n)
					return nil
				},
			},
		},
	}
}

func openStore(c *cli.Context, cfg *config.AppConfig, extra ...store.OptionFunc) (*store.FileStore, error) {
	sc := cfg.Storage
	sc.Root = c.String("root")
	return store.FromConfig(afero.NewOsFs(), sc, extra...)
}
