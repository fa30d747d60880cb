// hubctl is a command-line client for a running klingnet-hubd.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"
)

func usage() {
	fmt.Fprintf(os.Stderr, `hubctl - klingnet hub client

Usage:
  hubctl [--hub=URL] [--session=ID] <command> [args]

Commands:
  connect [network] [endpoint]   Connect the session to a node
  disconnect                     Tear the session down
  sessions                       List live sessions
  wallet create                  Create a wallet (prints the mnemonic once)
  wallet import                  Import a wallet (prompts for the mnemonic)
  wallet import-key              Import a private key (prompts for the key)
  address [index] [--change]     Derive an address
  balance [address]              Show an address balance
  utxos [address]                List spendable outputs
  send <to> <amount> [flags]     Send funds (--tier, --fee, --priority, --from)
  fee <to> <amount>              Estimate fees per tier
  subscribe [addr ...]           Watch addresses for balance changes
  unsubscribe [addr ...]         Stop watching addresses (none = all)
  status                         Show the monitored set's balances
  notifications [max]            Drain pending notifications

Global flags:
  --hub=URL       Hub endpoint (default http://127.0.0.1:8645)
  --session=ID    Session identifier (default "default")
`)
}

// rpcCall posts one JSON-RPC request and returns the raw result.
func rpcCall(hubURL, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(hubURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("hub unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int         `json:"code"`
			Message string      `json:"message"`
			Data    interface{} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	if envelope.Error != nil {
		msg := envelope.Error.Message
		if s, ok := envelope.Error.Data.(string); ok && s != "" {
			msg += ": " + s
		}
		return nil, fmt.Errorf("%s (code %d)", msg, envelope.Error.Code)
	}
	return envelope.Result, nil
}

// printJSON pretty-prints an RPC result.
func printJSON(raw json.RawMessage) {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(out.String())
}

// promptSecret reads a line without echo.
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func main() {
	hubURL := "http://127.0.0.1:8645"
	sessionID := ""

	args := os.Args[1:]
	for len(args) > 0 && strings.HasPrefix(args[0], "--") {
		switch {
		case strings.HasPrefix(args[0], "--hub="):
			hubURL = args[0][len("--hub="):]
		case strings.HasPrefix(args[0], "--session="):
			sessionID = args[0][len("--session="):]
		case args[0] == "--help" || args[0] == "-h":
			usage()
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown flag %q\n", args[0])
			os.Exit(2)
		}
		args = args[1:]
	}

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd, cmdArgs := args[0], args[1:]
	run := func(method string, params map[string]interface{}) {
		if params == nil {
			params = map[string]interface{}{}
		}
		if sessionID != "" {
			params["session_id"] = sessionID
		}
		raw, err := rpcCall(hubURL, method, params)
		if err != nil {
			fatal(err)
		}
		printJSON(raw)
	}

	switch cmd {
	case "connect":
		params := map[string]interface{}{}
		if len(cmdArgs) > 0 {
			params["network"] = cmdArgs[0]
		}
		if len(cmdArgs) > 1 {
			params["endpoint"] = cmdArgs[1]
		}
		run("hub_connect", params)

	case "disconnect":
		run("hub_disconnect", nil)

	case "sessions":
		run("hub_sessions", nil)

	case "wallet":
		if len(cmdArgs) == 0 {
			usage()
			os.Exit(1)
		}
		switch cmdArgs[0] {
		case "create":
			run("wallet_create", nil)
		case "import":
			mnemonic, err := promptSecret("Mnemonic")
			if err != nil {
				fatal(err)
			}
			passphrase, err := promptSecret("Passphrase (empty for none)")
			if err != nil {
				fatal(err)
			}
			run("wallet_import", map[string]interface{}{
				"mnemonic":   mnemonic,
				"passphrase": passphrase,
			})
		case "import-key":
			key, err := promptSecret("Private key (hex)")
			if err != nil {
				fatal(err)
			}
			run("wallet_import", map[string]interface{}{"private_key": key})
		default:
			usage()
			os.Exit(1)
		}

	case "address":
		params := map[string]interface{}{}
		for _, a := range cmdArgs {
			if a == "--change" {
				params["change"] = true
				continue
			}
			index, err := strconv.ParseUint(a, 10, 32)
			if err != nil {
				fatal(fmt.Errorf("invalid index %q", a))
			}
			params["index"] = index
		}
		run("wallet_address", params)

	case "balance":
		params := map[string]interface{}{}
		if len(cmdArgs) > 0 {
			params["address"] = cmdArgs[0]
		}
		run("wallet_balance", params)

	case "utxos":
		params := map[string]interface{}{}
		if len(cmdArgs) > 0 {
			params["address"] = cmdArgs[0]
		}
		run("wallet_utxos", params)

	case "send":
		fs := flag.NewFlagSet("send", flag.ExitOnError)
		tier := fs.String("tier", "", "Fee tier: low, normal, high")
		customFee := fs.Uint64("fee", 0, "Requested total fee")
		priorityFee := fs.Uint64("priority", 0, "Legacy additive priority fee")
		from := fs.String("from", "", "Sender address (default: first wallet address)")
		payload := fs.String("payload", "", "Hex payload to attach")
		fs.Parse(cmdArgs)
		rest := fs.Args()
		if len(rest) != 2 {
			fatal(fmt.Errorf("usage: send <to> <amount> [--tier|--fee|--priority] [--from]"))
		}
		amount, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			fatal(fmt.Errorf("invalid amount %q", rest[1]))
		}
		params := map[string]interface{}{"to": rest[0], "amount": amount}
		if *tier != "" {
			params["fee_tier"] = *tier
		}
		fs.Visit(func(fl *flag.Flag) {
			switch fl.Name {
			case "fee":
				params["custom_fee"] = *customFee
			case "priority":
				params["priority_fee"] = *priorityFee
			}
		})
		if *from != "" {
			params["from"] = *from
		}
		if *payload != "" {
			params["payload"] = *payload
		}
		run("tx_send", params)

	case "fee":
		if len(cmdArgs) != 2 {
			fatal(fmt.Errorf("usage: fee <to> <amount>"))
		}
		amount, err := strconv.ParseInt(cmdArgs[1], 10, 64)
		if err != nil {
			fatal(fmt.Errorf("invalid amount %q", cmdArgs[1]))
		}
		run("fee_estimate", map[string]interface{}{"to": cmdArgs[0], "amount": amount})

	case "subscribe":
		params := map[string]interface{}{"include_transactions": true}
		if len(cmdArgs) > 0 {
			params["addresses"] = cmdArgs
		}
		run("sub_subscribe", params)

	case "unsubscribe":
		params := map[string]interface{}{}
		if len(cmdArgs) > 0 {
			params["addresses"] = cmdArgs
		}
		run("sub_unsubscribe", params)

	case "status":
		run("sub_status", nil)

	case "notifications":
		params := map[string]interface{}{}
		if len(cmdArgs) > 0 {
			max, err := strconv.Atoi(cmdArgs[0])
			if err != nil {
				fatal(fmt.Errorf("invalid max %q", cmdArgs[0]))
			}
			params["max"] = max
		}
		run("sub_notifications", params)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}
}
