package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/urfave/cli/v2"
)

var syncCommand = &cli.Command{
	Name:  "sync",
	Usage: "Run sync actions",
	Subcommands: []*cli.Command{
		{
			Name:  "chats",
			Usage: "Run one chat-list sync",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "force", Usage: "List from the top and refetch every chat"},
				&cli.BoolFlag{Name: "older", Usage: "Page backwards from the oldest cursor"},
			},
			Action: func(ctx *cli.Context) error {
				q := url.Values{}
				setBool(q, "force", ctx.Bool("force"))
				setBool(q, "older", ctx.Bool("older"))
				return post(ctx, "/sync/chats", q, nil)
			},
		},
		{
			Name:      "chat",
			Usage:     "Fetch messages for one chat",
			ArgsUsage: "CHAT_ID",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "mode", Value: "latest", Usage: "latest, newer or backfill"},
				&cli.IntFlag{Name: "pages", Usage: "Backfill page limit (0 = until complete)"},
			},
			Action: func(ctx *cli.Context) error {
				id, err := arg(ctx, 0, "CHAT_ID")
				if err != nil {
					return err
				}
				q := url.Values{"mode": {ctx.String("mode")}}
				if p := ctx.Int("pages"); p > 0 {
					q.Set("pages", strconv.Itoa(p))
				}
				return post(ctx, "/chats/"+url.PathEscape(id)+"/sync", q, nil)
			},
		},
		{
			Name:  "contacts",
			Usage: "Pull every contact from the CRM",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "force", Usage: "Bypass the protection window and staleness checks"},
			},
			Action: func(ctx *cli.Context) error {
				q := url.Values{}
				setBool(q, "force", ctx.Bool("force"))
				return post(ctx, "/sync/contacts", q, nil)
			},
		},
	},
}

var rematchCommand = &cli.Command{
	Name:  "rematch",
	Usage: "Re-evaluate every chat's contact link",
	Action: func(ctx *cli.Context) error {
		return post(ctx, "/rematch", nil, nil)
	},
}

var duplicatesCommand = &cli.Command{
	Name:  "duplicates",
	Usage: "List probable duplicate contacts",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "contact", Usage: "Only list duplicates of this contact ID"},
	},
	Action: func(ctx *cli.Context) error {
		path := "/duplicates"
		if id := ctx.String("contact"); id != "" {
			path = "/contacts/" + url.PathEscape(id) + "/duplicates"
		}
		return get(ctx, path, nil)
	},
}

// contactFields maps CLI flags to the contact patch JSON keys.
var contactFields = []struct{ flag, key string }{
	{"first-name", "first_name"},
	{"last-name", "last_name"},
	{"email", "email"},
	{"company", "company"},
	{"handle", "handle"},
	{"phone", "phone"},
	{"notes", "notes"},
	{"lead-status", "lead_status"},
}

func contactFlags() []cli.Flag {
	var flags []cli.Flag
	for _, f := range contactFields {
		flags = append(flags, &cli.StringFlag{Name: f.flag})
	}
	return append(flags, &cli.BoolFlag{Name: "do-not-sync", Usage: "Stop pushing this contact to the CRM"})
}

var contactCommand = &cli.Command{
	Name:  "contact",
	Usage: "Inspect and edit contacts",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List contacts",
			Action: func(ctx *cli.Context) error {
				return get(ctx, "/contacts", nil)
			},
		},
		{
			Name:      "show",
			ArgsUsage: "CONTACT_ID",
			Action: func(ctx *cli.Context) error {
				id, err := arg(ctx, 0, "CONTACT_ID")
				if err != nil {
					return err
				}
				return get(ctx, "/contacts/"+url.PathEscape(id), nil)
			},
		},
		{
			Name:      "update",
			Usage:     "Edit a contact locally and push it to the CRM",
			ArgsUsage: "CONTACT_ID",
			Flags:     contactFlags(),
			Action: func(ctx *cli.Context) error {
				id, err := arg(ctx, 0, "CONTACT_ID")
				if err != nil {
					return err
				}
				patch := map[string]any{}
				for _, f := range contactFields {
					if ctx.IsSet(f.flag) {
						patch[f.key] = ctx.String(f.flag)
					}
				}
				if ctx.IsSet("do-not-sync") {
					patch["do_not_sync"] = ctx.Bool("do-not-sync")
				}
				if len(patch) == 0 {
					return fmt.Errorf("nothing to update")
				}
				return send(ctx, http.MethodPatch, "/contacts/"+url.PathEscape(id), nil, patch)
			},
		},
		{
			Name:      "merge",
			Usage:     "Merge DUPLICATE_ID into PRIMARY_ID",
			ArgsUsage: "PRIMARY_ID DUPLICATE_ID",
			Action: func(ctx *cli.Context) error {
				primary, err := arg(ctx, 0, "PRIMARY_ID")
				if err != nil {
					return err
				}
				dup, err := arg(ctx, 1, "DUPLICATE_ID")
				if err != nil {
					return err
				}
				return post(ctx, "/contacts/"+url.PathEscape(primary)+"/merge", nil, map[string]string{"duplicate_id": dup})
			},
		},
	},
}

var chatCommand = &cli.Command{
	Name:  "chat",
	Usage: "Inspect chats and send messages",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List chats by activity",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: 50},
			},
			Action: func(ctx *cli.Context) error {
				return get(ctx, "/chats", url.Values{"limit": {strconv.Itoa(ctx.Int("limit"))}})
			},
		},
		{
			Name:      "messages",
			ArgsUsage: "CHAT_ID",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: 50},
				&cli.StringFlag{Name: "before", Usage: "Sort key to page from"},
			},
			Action: func(ctx *cli.Context) error {
				id, err := arg(ctx, 0, "CHAT_ID")
				if err != nil {
					return err
				}
				q := url.Values{"limit": {strconv.Itoa(ctx.Int("limit"))}}
				if b := ctx.String("before"); b != "" {
					q.Set("before", b)
				}
				return get(ctx, "/chats/"+url.PathEscape(id)+"/messages", q)
			},
		},
		{
			Name:      "link",
			Usage:     "Pin a chat to a contact",
			ArgsUsage: "CHAT_ID CONTACT_ID",
			Action: func(ctx *cli.Context) error {
				id, err := arg(ctx, 0, "CHAT_ID")
				if err != nil {
					return err
				}
				contactID, err := arg(ctx, 1, "CONTACT_ID")
				if err != nil {
					return err
				}
				return send(ctx, http.MethodPut, "/chats/"+url.PathEscape(id)+"/contact", nil, map[string]string{"contact_id": contactID})
			},
		},
		{
			Name:      "unlink",
			Usage:     "Release a chat's pin and rematch it",
			ArgsUsage: "CHAT_ID",
			Action: func(ctx *cli.Context) error {
				id, err := arg(ctx, 0, "CHAT_ID")
				if err != nil {
					return err
				}
				return send(ctx, http.MethodPut, "/chats/"+url.PathEscape(id)+"/contact", nil, map[string]string{"contact_id": ""})
			},
		},
		{
			Name:      "send",
			ArgsUsage: "CHAT_ID TEXT",
			Action: func(ctx *cli.Context) error {
				id, err := arg(ctx, 0, "CHAT_ID")
				if err != nil {
					return err
				}
				text, err := arg(ctx, 1, "TEXT")
				if err != nil {
					return err
				}
				return post(ctx, "/chats/"+url.PathEscape(id)+"/messages", nil, map[string]string{"text": text})
			},
		},
	},
}

func arg(ctx *cli.Context, i int, name string) (string, error) {
	if ctx.NArg() <= i {
		return "", fmt.Errorf("you must specify %s", name)
	}
	return ctx.Args().Get(i), nil
}

func setBool(q url.Values, key string, v bool) {
	if v {
		q.Set(key, "true")
	}
}

func get(ctx *cli.Context, path string, q url.Values) error {
	return send(ctx, http.MethodGet, path, q, nil)
}

func post(ctx *cli.Context, path string, q url.Values, body any) error {
	return send(ctx, http.MethodPost, path, q, body)
}

func send(ctx *cli.Context, method, path string, q url.Values, body any) error {
	c := getClient(ctx)
	raw, err := c.call(ctx.Context, method, path, q, body)
	if err != nil {
		return err
	}
	c.print(raw)
	return nil
}
