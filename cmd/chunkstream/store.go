package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/poiesic/chunkstream/contentstore"
	"github.com/poiesic/chunkstream/core"
	"github.com/urfave/cli/v2"
)

func storeCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "put",
			Usage:     "Store a file and print its ref",
			ArgsUsage: "FILE",
			Action:    storePutCommand,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "mime", Usage: "MIME type; guessed from the extension when empty"},
			},
		},
		{
			Name:      "get",
			Usage:     "Write an object to stdout",
			ArgsUsage: "REF",
			Action:    storeGetCommand,
		},
		{
			Name:      "page",
			Usage:     "Write one page of an object to stdout",
			ArgsUsage: "REF",
			Action:    storePageCommand,
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Value: 1, Usage: "Page number, from 1"},
				&cli.IntFlag{Name: "size", Value: contentstore.DefaultPageSize, Usage: "Page size in bytes"},
			},
		},
		{
			Name:      "meta",
			Usage:     "Print an object's metadata as JSON",
			ArgsUsage: "REF",
			Action:    storeMetaCommand,
		},
		{
			Name:   "ls",
			Usage:  "List stored objects",
			Action: storeListCommand,
		},
		{
			Name:      "rm",
			Usage:     "Delete an object",
			ArgsUsage: "REF",
			Action:    storeDeleteCommand,
		},
		{
			Name:      "verify",
			Usage:     "Check an object against its hash",
			ArgsUsage: "REF",
			Action:    storeVerifyCommand,
		},
	}
}

// openStore opens only the content store; the database is left alone.
func openStore(c *cli.Context) (*contentstore.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return contentstore.New(cfg.ContentPath(), contentstore.WithMaxObjectSize(cfg.MaxObjectSize))
}

func refArg(c *cli.Context) (core.ContentRef, error) {
	if c.NArg() != 1 {
		return "", errors.New("exactly one ref is required")
	}
	ref := core.ContentRef(c.Args().First())
	if _, err := core.ParseContentRef(ref); err != nil {
		return "", err
	}
	return ref, nil
}

func storePutCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one file is required")
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}

	path := c.Args().First()
	mimeType := c.String("mime")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	obj, err := s.PutReader(c.Context, f, mimeType)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\t%d bytes\t%s\n", obj.Ref, obj.Size, obj.MimeType)
	return nil
}

func storeGetCommand(c *cli.Context) error {
	ref, err := refArg(c)
	if err != nil {
		return err
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	data, err := s.Get(c.Context, ref)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}

func storePageCommand(c *cli.Context) error {
	ref, err := refArg(c)
	if err != nil {
		return err
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	page, err := s.GetPage(c.Context, ref, c.Int("page"), c.Int("size"))
	if err != nil {
		return err
	}
	if _, err := c.App.Writer.Write(page.Content); err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "\npage %d of %d (%d bytes total)\n", page.Page, page.TotalPages, page.TotalSize)
	return nil
}

func storeMetaCommand(c *cli.Context) error {
	ref, err := refArg(c)
	if err != nil {
		return err
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	obj, err := s.GetMeta(c.Context, ref)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(obj)
}

func storeListCommand(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tSIZE\tMIME\tCREATED")
	for _, obj := range s.List(c.Context) {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", obj.Ref, obj.Size, obj.MimeType, obj.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "%d bytes total\n", s.TotalSize(c.Context))
	return nil
}

func storeDeleteCommand(c *cli.Context) error {
	ref, err := refArg(c)
	if err != nil {
		return err
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	deleted, err := s.Delete(c.Context, ref)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%s: %w", ref, core.ErrContentNotFound)
	}
	fmt.Fprintf(c.App.Writer, "deleted %s\n", ref)
	return nil
}

func storeVerifyCommand(c *cli.Context) error {
	ref, err := refArg(c)
	if err != nil {
		return err
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	if err := s.Verify(c.Context, ref); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "ok %s\n", ref)
	return nil
}
