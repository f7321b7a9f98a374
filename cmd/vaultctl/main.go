package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"vaultauth/internal/bootstrap"
	"vaultauth/internal/config"
	"vaultauth/internal/logging"
)

var version = "dev"
var commit = ""

func main() {
	logging.Init("vaultctl", nil)
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fatalf("vaultctl: %v", err)
	}
}

var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var readFile = os.ReadFile
var loadConfig = config.LoadConfig
var buildStack = func(cfg config.Config) (*bootstrap.Stack, error) { return bootstrap.Build(cfg, nil) }

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("command required")
	}
	switch args[0] {
	case "-h", "--help", "help":
		writeUsage(out)
		return nil
	case "--version", "version":
		v := version
		if strings.TrimSpace(commit) != "" {
			v = v + " (" + commit + ")"
		}
		_, _ = fmt.Fprintln(out, v)
		return nil
	}
	switch args[0] {
	case "secret":
		return runSecret(args[1:], out)
	case "token":
		return runToken(args[1:], out)
	case "health":
		return runHealth(args[1:], out)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func writeUsage(out io.Writer) {
	_, _ = fmt.Fprintln(out, "Usage: vaultctl <command> <subcommand> [flags]")
	_, _ = fmt.Fprintln(out, "")
	_, _ = fmt.Fprintln(out, "Commands: secret, token, health")
	_, _ = fmt.Fprintln(out, "Global flags: --help, --version")
	_, _ = fmt.Fprintln(out, "The config path defaults to $VAULTAUTH_CONFIG.")
}

func isHelp(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}

// session loads the config named by -config and builds the Vault stack.
func session(configPath string) (*bootstrap.Stack, error) {
	if strings.TrimSpace(configPath) == "" {
		configPath = os.Getenv("VAULTAUTH_CONFIG")
	}
	if strings.TrimSpace(configPath) == "" {
		return nil, errors.New("config required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return buildStack(cfg)
}

func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func runSecret(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("secret subcommand required")
	}
	if isHelp(args[0]) {
		_, _ = fmt.Fprintln(out, "Usage: vaultctl secret <get|put|delete> -key KEY [-value VALUE|@file] [flags]")
		return nil
	}
	switch args[0] {
	case "get":
		return runSecretGet(args[1:], out)
	case "put":
		return runSecretPut(args[1:], out)
	case "delete":
		return runSecretDelete(args[1:], out)
	default:
		return fmt.Errorf("unknown secret command: %s", args[0])
	}
}

func runSecretGet(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("secret get", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	key := fs.String("key", "", "secret key")
	timeout := fs.Duration("timeout", 30*time.Second, "command timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*key) == "" {
		return errors.New("key required")
	}
	stack, err := session(*configPath)
	if err != nil {
		return err
	}
	defer stack.Close()
	ctx, cancel := commandContext(*timeout)
	defer cancel()
	value, err := stack.Client.GetSecret(ctx, *key)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, value)
	return nil
}

func runSecretPut(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("secret put", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	key := fs.String("key", "", "secret key")
	value := fs.String("value", "", "secret value or @file")
	timeout := fs.Duration("timeout", 30*time.Second, "command timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*key) == "" {
		return errors.New("key required")
	}
	content, err := readValue(*value)
	if err != nil {
		return err
	}
	stack, err := session(*configPath)
	if err != nil {
		return err
	}
	defer stack.Close()
	ctx, cancel := commandContext(*timeout)
	defer cancel()
	meta, err := stack.Client.SetSecret(ctx, *key, content)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(meta)
}

func runSecretDelete(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("secret delete", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	key := fs.String("key", "", "secret key")
	timeout := fs.Duration("timeout", 30*time.Second, "command timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*key) == "" {
		return errors.New("key required")
	}
	stack, err := session(*configPath)
	if err != nil {
		return err
	}
	defer stack.Close()
	ctx, cancel := commandContext(*timeout)
	defer cancel()
	if err := stack.Client.DestroySecret(ctx, *key); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "ok")
	return nil
}

// readValue returns raw, or the contents of the named file when raw starts
// with "@".
func readValue(raw string) (string, error) {
	if !strings.HasPrefix(raw, "@") {
		if raw == "" {
			return "", errors.New("value required")
		}
		return raw, nil
	}
	path := strings.TrimPrefix(raw, "@")
	if path == "" {
		return "", errors.New("value file required")
	}
	data, err := readFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

type tokenInfo struct {
	Method    string    `json:"method"`
	Accessor  string    `json:"accessor,omitempty"`
	Policies  []string  `json:"policies,omitempty"`
	TTL       string    `json:"ttl"`
	Renewable bool      `json:"renewable"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func runToken(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("token subcommand required")
	}
	if isHelp(args[0]) {
		_, _ = fmt.Fprintln(out, "Usage: vaultctl token <lookup|renew> [flags]")
		return nil
	}
	var renew bool
	switch args[0] {
	case "lookup":
	case "renew":
		renew = true
	default:
		return fmt.Errorf("unknown token command: %s", args[0])
	}
	fs := flag.NewFlagSet("token "+args[0], flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	timeout := fs.Duration("timeout", 30*time.Second, "command timeout")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	stack, err := session(*configPath)
	if err != nil {
		return err
	}
	defer stack.Close()
	ctx, cancel := commandContext(*timeout)
	defer cancel()

	method := stack.Config.Vault.AuthMethod
	p, ok := stack.Provider()
	if !ok {
		if renew {
			return fmt.Errorf("auth method %s does not renew tokens", method)
		}
		value, err := stack.Auth.VaultToken(ctx)
		if err != nil {
			return err
		}
		tok, err := stack.Client.LookupSelf(ctx, value)
		if err != nil {
			return err
		}
		return json.NewEncoder(out).Encode(tokenInfo{Method: method, Accessor: tok.Accessor, Policies: tok.Policies, TTL: tok.TTL.String(), Renewable: tok.Renewable})
	}
	tok, err := p.ValidToken(ctx)
	if err == nil && renew {
		tok, err = p.Refresh(ctx)
	}
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(tokenInfo{
		Method:    method,
		Accessor:  tok.Accessor,
		Policies:  tok.Policies,
		TTL:       tok.TTL.String(),
		Renewable: tok.Renewable,
		ExpiresAt: tok.ExpiresAt(),
	})
}

func runHealth(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	timeout := fs.Duration("timeout", 10*time.Second, "command timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stack, err := session(*configPath)
	if err != nil {
		return err
	}
	defer stack.Close()
	ctx, cancel := commandContext(*timeout)
	defer cancel()
	status, err := stack.Client.Health(ctx)
	if encErr := json.NewEncoder(out).Encode(status); encErr != nil {
		return encErr
	}
	return err
}
