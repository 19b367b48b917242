package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/smsdesk/smsdesk/internal/config"
	"github.com/smsdesk/smsdesk/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	addrFlag := flag.String("addr", "", "daemon address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output raw JSON")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &ctl{
		base:    "http://" + resolveAddr(profileName, *addrFlag),
		client:  &http.Client{Timeout: 15 * time.Second},
		jsonOut: *jsonFlag,
	}

	switch args[0] {
	case "status":
		c.get("/healthz")
	case "sync":
		c.post("/v1/sync", nil)
	case "inbox":
		path := "/v1/inbox"
		if len(args) > 1 {
			path += "?q=" + url.QueryEscape(args[1])
		}
		c.get(path)
	case "thread":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: smsdeskctl thread <phone>")
			os.Exit(1)
		}
		c.get("/v1/conversations/" + url.PathEscape(args[1]) + "/messages")
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: smsdeskctl send <phone> <body>")
			os.Exit(1)
		}
		c.post("/v1/messages", map[string]string{"to": args[1], "body": args[2]})
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: smsdeskctl read <phone>")
			os.Exit(1)
		}
		c.post("/v1/messages/read", map[string]string{"phone": args[1]})
	case "contacts":
		c.get("/v1/contacts")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: smsdeskctl [--profile <name>] [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status           Show daemon status")
	fmt.Fprintln(os.Stderr, "  sync             Run a pull-sync now")
	fmt.Fprintln(os.Stderr, "  inbox [query]    List inbox conversations")
	fmt.Fprintln(os.Stderr, "  thread <phone>   Show a conversation")
	fmt.Fprintln(os.Stderr, "  send <phone> <body>  Queue an outbound SMS")
	fmt.Fprintln(os.Stderr, "  read <phone>     Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  contacts         List contacts")
}

// resolveAddr picks the daemon address: flag, then the profile's
// config file, then the compiled-in default.
func resolveAddr(profileName, flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg, err := config.Load(profile.ConfigPath(profileName)); err == nil && cfg.HTTP.ListenAddr != "" {
		return cfg.HTTP.ListenAddr
	}
	return config.Default().HTTP.ListenAddr
}

type ctl struct {
	base    string
	client  *http.Client
	jsonOut bool
}

func (c *ctl) get(path string) {
	resp, err := c.client.Get(c.base + path)
	c.render(resp, err)
}

func (c *ctl) post(path string, body any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		reader = bytes.NewReader(data)
	}
	resp, err := c.client.Post(c.base+path, "application/json", reader)
	c.render(resp, err)
}

func (c *ctl) render(resp *http.Response, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.base, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if c.jsonOut {
		fmt.Println(string(data))
	} else {
		var pretty bytes.Buffer
		if json.Indent(&pretty, data, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(data))
		}
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
