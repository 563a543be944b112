package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cordum/stocklock/core/infra/buildinfo"
	sdk "github.com/cordum/stocklock/sdk/client"
)

const defaultGateway = "http://localhost:8081"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "stock":
		runStockCmd(args)
	case "lock":
		runLockCmd(args)
	case "password":
		runPasswordCmd(args)
	case "race":
		runRaceCmd(args)
	case "watch":
		runWatchCmd(args)
	case "version":
		fmt.Println(buildinfo.Info())
	default:
		usage()
		os.Exit(1)
	}
}

func runStockCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "get":
		fs := newFlagSet("stock get")
		fs.ParseArgs(args[1:])
		id := stockIDArg(fs)
		client := newClient(*fs.gateway, *fs.apiKey)
		st, err := client.GetStock(context.Background(), id)
		check(err)
		printJSON(st)
	case "put":
		fs := newFlagSet("stock put")
		count := fs.Int64("count", 100, "stock count to store")
		fs.ParseArgs(args[1:])
		id := stockIDArg(fs)
		client := newClient(*fs.gateway, *fs.apiKey)
		st, err := client.PutStock(context.Background(), id, *count)
		check(err)
		printJSON(st)
	case "decrease":
		fs := newFlagSet("stock decrease")
		quantity := fs.Int64("quantity", 1, "units to remove")
		unguarded := fs.Bool("unguarded", false, "skip the lock")
		fs.ParseArgs(args[1:])
		id := stockIDArg(fs)
		client := newClient(*fs.gateway, *fs.apiKey)
		st, err := client.DecreaseStock(context.Background(), id, *quantity, *unguarded)
		check(err)
		printJSON(st)
	default:
		usage()
		os.Exit(1)
	}
}

func runLockCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "get":
		fs := newFlagSet("lock get")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("lock key required")
		}
		client := newClient(*fs.gateway, *fs.apiKey)
		lk, err := client.GetLock(context.Background(), fs.Arg(0))
		check(err)
		printJSON(lk)
	case "acquire":
		fs := newFlagSet("lock acquire")
		token := fs.String("token", "", "ownership token (generated when empty)")
		ttl := fs.Duration("ttl", 0, "lock ttl (server default when zero)")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("lock key required")
		}
		client := newClient(*fs.gateway, *fs.apiKey)
		lk, err := client.AcquireLock(context.Background(), fs.Arg(0), *token, *ttl)
		check(err)
		printJSON(lk)
	case "release":
		fs := newFlagSet("lock release")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 2 {
			fail("usage: lock release <key> <token>")
		}
		client := newClient(*fs.gateway, *fs.apiKey)
		lk, err := client.ReleaseLock(context.Background(), fs.Arg(0), fs.Arg(1))
		check(err)
		printJSON(lk)
	default:
		usage()
		os.Exit(1)
	}
}

func runPasswordCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "reset":
		fs := newFlagSet("password reset")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("user id required")
		}
		client := newClient(*fs.gateway, *fs.apiKey)
		check(client.ResetPassword(context.Background(), fs.Arg(0)))
		fmt.Println("temporary password issued")
	case "verify":
		fs := newFlagSet("password verify")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 2 {
			fail("usage: password verify <user_id> <password>")
		}
		client := newClient(*fs.gateway, *fs.apiKey)
		check(client.VerifyPassword(context.Background(), fs.Arg(0), fs.Arg(1)))
		fmt.Println("password accepted")
	default:
		usage()
		os.Exit(1)
	}
}

type flagSet struct {
	*flag.FlagSet
	gateway *string
	apiKey  *string
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	gateway := fs.String("gateway", envOr("STOCKLOCK_GATEWAY", defaultGateway), "gateway base url")
	apiKey := fs.String("api-key", envOr("STOCKLOCK_API_KEY", ""), "api key")
	return &flagSet{FlagSet: fs, gateway: gateway, apiKey: apiKey}
}

func (fs *flagSet) ParseArgs(args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
	}
}

func newClient(gateway, apiKey string) *sdk.Client {
	return sdk.New(strings.TrimRight(gateway, "/"), apiKey)
}

func stockIDArg(fs *flagSet) int64 {
	if fs.NArg() < 1 {
		fail("stock id required")
	}
	id, err := parseID(fs.Arg(0))
	check(err)
	return id
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	check(err)
	fmt.Println(string(data))
}

func usage() {
	fmt.Print(`stocklockctl - stock lock CLI

Usage:
  stocklockctl stock get <id>
  stocklockctl stock put <id> [--count 100]
  stocklockctl stock decrease <id> [--quantity 1] [--unguarded]
  stocklockctl lock get <key>
  stocklockctl lock acquire <key> [--token t] [--ttl 30s]
  stocklockctl lock release <key> <token>
  stocklockctl password reset <user_id>
  stocklockctl password verify <user_id> <password>
  stocklockctl race [--redis url|--memory] [--id 1] [--initial 100] [--workers 100] [--unguarded]
  stocklockctl watch [--nats url]
  stocklockctl version

Global flags:
  --gateway   Gateway base URL (default from STOCKLOCK_GATEWAY)
  --api-key   API key (default from STOCKLOCK_API_KEY)
`)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
