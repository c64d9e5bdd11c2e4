package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"escrowd/crypto"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = os.Getenv("ESCROWD_RPC_TOKEN")
)

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("RPC_URL")); url != "" {
		return url
	}
	return "http://localhost:8545"
}

func main() {
	args := os.Args[1:]
	if len(args) > 1 && args[0] == "--rpc" {
		rpcEndpoint = args[1]
		args = args[2:]
	}
	if len(args) < 1 {
		printUsage()
		return
	}

	switch args[0] {
	case "generate-key":
		generateKey()
	case "balance":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and an asset.")
			printUsage()
			return
		}
		call("bank_balance", map[string]interface{}{"address": args[1], "asset": args[2]})
	case "create-account":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and an asset.")
			printUsage()
			return
		}
		call("bank_createAccount", map[string]interface{}{"address": args[1], "asset": args[2]})
	case "assets":
		call("asset_list", nil)
	case "initialize":
		if len(args) < 6 {
			fmt.Println("Error: Please provide key file, seed, counterparty, asset and amount.")
			printUsage()
			return
		}
		seed, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid seed.")
			return
		}
		params := map[string]interface{}{
			"caller":          loadAddress(args[1]),
			"seed":            seed,
			"counterparty":    args[3],
			"assetPrimary":    args[4],
			"amountDeposited": args[5],
		}
		if len(args) > 6 {
			params["amountRequested"] = args[6]
		}
		call("escrow_initialize", params)
	case "confirm":
		requireActorArgs(args, "confirm")
		call("escrow_confirmPayment", map[string]interface{}{"address": args[2], "caller": loadAddress(args[1])})
	case "cancel":
		requireActorArgs(args, "cancel")
		call("escrow_cancel", map[string]interface{}{"address": args[2], "caller": loadAddress(args[1])})
	case "exchange":
		if len(args) < 3 {
			fmt.Println("Error: Please provide a key file and an escrow address.")
			printUsage()
			return
		}
		exchange(args[1], args[2])
	case "get":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an escrow address.")
			printUsage()
			return
		}
		call("escrow_get", map[string]interface{}{"address": args[1]})
	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		printUsage()
	}
}

func requireActorArgs(args []string, command string) {
	if len(args) < 3 {
		fmt.Printf("Error: %s needs a key file and an escrow address.\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: escrow-cli [--rpc <url>] <command> [args]

Commands:
  generate-key                                           Create a key file (wallet.key)
  balance <address> <asset>                              Query an account balance
  create-account <address> <asset>                       Create a balance record so the address can receive the asset
  assets                                                 List registered assets
  initialize <key> <seed> <counterparty> <asset> <amount> [requested]
                                                         Create and fund an escrow
  confirm <key> <escrow-address>                         Confirm the off-ledger payment (counterparty)
  exchange <key> <escrow-address>                        Release the vault to the counterparty (initializer)
  cancel <key> <escrow-address>                          Refund and destroy an unconfirmed escrow (initializer)
  get <escrow-address>                                   Fetch an escrow record

Mutating commands read the bearer token from ESCROWD_RPC_TOKEN.`)
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	encoded := hex.EncodeToString(key.Bytes())
	if err := os.WriteFile("wallet.key", []byte(encoded), 0o600); err != nil {
		fmt.Printf("Error writing key file: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Key saved to wallet.key")
	fmt.Printf("Address: %s\n", key.PubKey().Address().String())
}

func loadKey(path string) *crypto.PrivateKey {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Error reading key file: %v\n", err)
		os.Exit(1)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		fmt.Printf("Error decoding key file: %v\n", err)
		os.Exit(1)
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		fmt.Printf("Error parsing key: %v\n", err)
		os.Exit(1)
	}
	return key
}

func loadAddress(keyPath string) string {
	return loadKey(keyPath).PubKey().Address().String()
}

// exchange fetches the record first so the account bindings submitted with
// the release mirror what is stored.
func exchange(keyPath, escrowAddr string) {
	result, err := rpcCall("escrow_get", map[string]interface{}{"address": escrowAddr})
	if err != nil {
		fmt.Printf("Error fetching escrow: %v\n", err)
		os.Exit(1)
	}
	var esc struct {
		Initializer    string `json:"initializer"`
		Counterparty   string `json:"counterparty"`
		AssetPrimary   string `json:"assetPrimary"`
		AssetSecondary string `json:"assetSecondary"`
		Vault          string `json:"vault"`
	}
	if err := json.Unmarshal(result, &esc); err != nil {
		fmt.Printf("Error decoding escrow: %v\n", err)
		os.Exit(1)
	}
	call("escrow_exchange", map[string]interface{}{
		"address":        escrowAddr,
		"caller":         loadAddress(keyPath),
		"initializer":    esc.Initializer,
		"counterparty":   esc.Counterparty,
		"assetPrimary":   esc.AssetPrimary,
		"assetSecondary": esc.AssetSecondary,
		"vault":          esc.Vault,
	})
}

func call(method string, params map[string]interface{}) {
	result, err := rpcCall(method, params)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(pretty.String())
}

func rpcCall(method string, params map[string]interface{}) (json.RawMessage, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if rpcAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int         `json:"code"`
			Message string      `json:"message"`
			Data    interface{} `json:"data"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Error != nil {
		if decoded.Error.Data != nil {
			return nil, fmt.Errorf("%s (%v)", decoded.Error.Message, decoded.Error.Data)
		}
		return nil, fmt.Errorf("%s", decoded.Error.Message)
	}
	return decoded.Result, nil
}
