// Command hume sends one status packet to a humed daemon. It is built for
// shell one-liners and cron jobs:
//
//	hume -L ok -t backup "nightly backup finished"
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"humed/internal/client"
	"humed/internal/hume"
)

var version = "dev"

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("hume", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: hume [options] <message>\n\noptions:\n")
		fs.PrintDefaults()
	}

	var tags stringList
	var extras stringList
	level := fs.String("L", string(hume.DefaultLevel), "status level (info, ok, warning, error, critical, debug, unknown)")
	task := fs.String("t", "", "task name (defaults to $HUME_TASKNAME)")
	fs.Var(&tags, "T", "tag, repeatable (merged with comma-separated $HUME_TAGS)")
	fs.Var(&extras, "x", "extra data as VAR=VALUE or VAR:VALUE, repeatable")
	attach := fs.Bool("a", false, "attach the calling process tree")
	encrypt := fs.Bool("e", false, "encrypt the message (not implemented)")
	hostname := fs.String("hostname", "", "override the detected hostname")
	addr := fs.String("addr", client.DefaultAddr, "daemon address")
	authToken := fs.String("auth-token", "", "auth token (defaults to $HUME_TOKEN)")
	recvTimeout := fs.String("recv-timeout", "", "reply wait in seconds (defaults to $HUME_RECVTIMEOUT)")
	verbose := fs.Bool("verbose", false, "print the reply")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Println("hume", version)
		return 0
	}
	if *encrypt {
		fmt.Fprintln(os.Stderr, "hume: -e: encryption is not implemented")
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	msg := fs.Arg(0)

	taskName := *task
	if taskName == "" {
		taskName = os.Getenv("HUME_TASKNAME")
	}
	allTags := append([]string{}, tags...)
	if env := os.Getenv("HUME_TAGS"); env != "" {
		for _, t := range strings.Split(env, ",") {
			if t = strings.TrimSpace(t); t != "" {
				allTags = append(allTags, t)
			}
		}
	}
	extra, err := parseExtras(extras)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hume:", err)
		return 1
	}
	token := *authToken
	if token == "" {
		token = os.Getenv("HUME_TOKEN")
	}
	timeout, err := parseTimeout(*recvTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hume:", err)
		return 1
	}

	pkt, err := client.NewPacket(msg, client.Options{
		Level:       hume.Level(*level),
		Task:        taskName,
		Tags:        allTags,
		Extra:       extra,
		Hostname:    *hostname,
		Token:       token,
		ProcessTree: *attach,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "hume:", err)
		return 1
	}

	reply, err := client.Send(*addr, pkt, timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hume:", err)
		return 1
	}
	if *verbose {
		fmt.Println(reply)
	}
	switch reply {
	case "OK":
		return 0
	case "AUTHFAIL":
		fmt.Fprintln(os.Stderr, "hume: authentication failed")
		return 1
	default:
		fmt.Fprintf(os.Stderr, "hume: daemon replied %q\n", reply)
		return 1
	}
}

// parseExtras accepts VAR=VALUE and VAR:VALUE, first separator wins.
func parseExtras(items []string) (map[string]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	extra := make(map[string]string, len(items))
	for _, item := range items {
		eq := strings.IndexByte(item, '=')
		colon := strings.IndexByte(item, ':')
		sep := eq
		if sep < 0 || (colon >= 0 && colon < sep) {
			sep = colon
		}
		if sep <= 0 {
			return nil, fmt.Errorf("-x %q: want VAR=VALUE or VAR:VALUE", item)
		}
		extra[item[:sep]] = item[sep+1:]
	}
	return extra, nil
}

func parseTimeout(flagVal string) (time.Duration, error) {
	v := flagVal
	if v == "" {
		v = os.Getenv("HUME_RECVTIMEOUT")
	}
	if v == "" {
		return client.DefaultTimeout, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("recv-timeout %q: want a positive number of seconds", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
