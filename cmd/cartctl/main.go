// cartctl drives a running cartsyncd from the command line.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	cartctl get [-kind cart|wishlist]
//	cartctl add -product ID [-variant KEY] [-qty N] -name NAME -price AMOUNT
//	cartctl set -entry ID -qty N
//	cartctl remove -entry ID | -product ID [-variant KEY]
//	cartctl clear
//	cartctl refresh [-force]
//	cartctl login -user ID [-token TOKEN]
//	cartctl logout
//
// Examples:
//
//	cartctl login -user u-123
//	ENTRY=$(cartctl add -product soup -variant 500g -name "Tomato soup" -price 12.50 -q)
//	cartctl set -entry "$ENTRY" -qty 3
//	cartctl get -kind wishlist
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

	"cartsync/internal/handler"
	"cartsync/internal/identity"
	"cartsync/internal/model"
)

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	serverURL string
	kind      string
	quiet     bool
	noColor   bool
	verbose   bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "get":
		runGet(args)
	case "add":
		runAdd(args)
	case "set":
		runSet(args)
	case "remove":
		runRemove(args)
	case "clear":
		runClear(args)
	case "refresh":
		runRefresh(args)
	case "login":
		runLogin(args)
	case "logout":
		runLogout(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cartctl - cartsyncd command line client

Usage:
  cartctl <command> [options]

Commands:
  get       Show a collection with totals
  add       Add units of a product variant
  set       Set the quantity of an entry (0 removes it)
  remove    Remove an entry
  clear     Remove every item
  refresh   Re-fetch the collection from the remote service
  login     Start a session; collections merge with the remote copy
  logout    End the session; collections are reset

Examples:
  cartctl login -user u-123
  ENTRY=$(cartctl add -product soup -variant 500g -name "Tomato soup" -price 12.50 -q)
  cartctl set -entry "$ENTRY" -qty 3
  cartctl get -kind wishlist

Run 'cartctl <command> -h' for command-specific options.
`)
}

// commonFlags registers the flags shared by every command.
func commonFlags(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&serverURL, "server", envOr("CARTSYNC_URL", "http://localhost:8080"), "cartsyncd base URL")
	fs.StringVar(&kind, "kind", "cart", "Collection: cart or wishlist")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the essential value")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl %s\n\nOptions:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

func parse(fs *flag.FlagSet, args []string) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
}

func collectionPath() string {
	return "/collections/" + url.PathEscape(kind)
}

// =============================================================================
// COLLECTION COMMANDS
// =============================================================================

func runGet(args []string) {
	fs := commonFlags("get", "get [options]")
	parse(fs, args)

	var view handler.CollectionView
	if err := doRequest("GET", collectionPath(), nil, nil, &view); err != nil {
		fatal("Failed to get %s: %v", kind, err)
	}
	if quiet {
		fmt.Println(view.Totals.Total)
		return
	}
	printCollection(view)
}

func runAdd(args []string) {
	fs := commonFlags("add", "add -product ID -name NAME -price AMOUNT [options]")
	var productID, variant, name, image, price, original string
	var qty int
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	fs.StringVar(&variant, "variant", "", "Variant key, e.g. 500g")
	fs.IntVar(&qty, "qty", 1, "Quantity")
	fs.StringVar(&name, "name", "", "Display name (required)")
	fs.StringVar(&image, "image", "", "Image URL")
	fs.StringVar(&price, "price", "", "Unit price, e.g. 12.50 (required)")
	fs.StringVar(&original, "original-price", "", "Unit price before discount")
	parse(fs, args)

	if productID == "" || name == "" || price == "" {
		fs.Usage()
		os.Exit(1)
	}

	body := map[string]interface{}{
		"productId":         productID,
		"variantKey":        variant,
		"quantity":          qty,
		"name":              name,
		"image":             image,
		"unitPrice":         price,
		"originalUnitPrice": original,
	}

	var view handler.CollectionView
	if err := doRequest("POST", collectionPath()+"/items", body, nil, &view); err != nil {
		fatal("Failed to add item: %v", err)
	}

	key := model.NewKey(productID, variant)
	entryID := ""
	for _, it := range view.Items {
		if it.ProductID == key.ProductID && it.VariantKey == key.VariantKey {
			entryID = it.EntryID
		}
	}
	if quiet {
		fmt.Println(entryID)
		return
	}
	printSuccess("Added %d x %s", qty, productID)
	printCollection(view)
}

func runSet(args []string) {
	fs := commonFlags("set", "set -entry ID -qty N [options]")
	var entryID string
	var qty int
	fs.StringVar(&entryID, "entry", "", "Entry ID (required)")
	fs.IntVar(&qty, "qty", -1, "New quantity (required, 0 removes)")
	parse(fs, args)

	if entryID == "" || qty < 0 {
		fs.Usage()
		os.Exit(1)
	}

	var view handler.CollectionView
	path := collectionPath() + "/items/" + url.PathEscape(entryID)
	if err := doRequest("PATCH", path, map[string]int{"quantity": qty}, nil, &view); err != nil {
		fatal("Failed to update quantity: %v", err)
	}
	printSuccess("Quantity set to %d", qty)
	if !quiet {
		printCollection(view)
	}
}

func runRemove(args []string) {
	fs := commonFlags("remove", "remove -entry ID | -product ID [-variant KEY] [options]")
	var entryID, productID, variant string
	fs.StringVar(&entryID, "entry", "", "Entry ID")
	fs.StringVar(&productID, "product", "", "Product ID, when the entry ID is unknown")
	fs.StringVar(&variant, "variant", "", "Variant key, with -product")
	parse(fs, args)

	path := collectionPath() + "/items/"
	switch {
	case entryID != "":
		path += url.PathEscape(entryID)
	case productID != "":
		q := url.Values{"productId": {productID}, "variantKey": {variant}}
		path += "-?" + q.Encode()
	default:
		fs.Usage()
		os.Exit(1)
	}

	var view handler.CollectionView
	if err := doRequest("DELETE", path, nil, nil, &view); err != nil {
		fatal("Failed to remove item: %v", err)
	}
	printSuccess("Removed")
	if !quiet {
		printCollection(view)
	}
}

func runClear(args []string) {
	fs := commonFlags("clear", "clear [options]")
	parse(fs, args)

	var view handler.CollectionView
	if err := doRequest("DELETE", collectionPath(), nil, nil, &view); err != nil {
		fatal("Failed to clear %s: %v", kind, err)
	}
	printSuccess("%s cleared", view.Kind)
}

func runRefresh(args []string) {
	fs := commonFlags("refresh", "refresh [-force] [options]")
	var force bool
	fs.BoolVar(&force, "force", false, "Ignore the freshness window")
	parse(fs, args)

	var view handler.CollectionView
	path := collectionPath() + "/refresh?force=" + fmt.Sprint(force)
	if err := doRequest("POST", path, nil, nil, &view); err != nil {
		fatal("Failed to refresh %s: %v", kind, err)
	}
	if quiet {
		fmt.Println(view.LastSyncedAt)
		return
	}
	printSuccess("%s refreshed", view.Kind)
	printCollection(view)
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

type sessionView struct {
	UserID      string                   `json:"userId"`
	Active      bool                     `json:"active"`
	Collections []handler.CollectionView `json:"collections"`
}

func runLogin(args []string) {
	fs := commonFlags("login", "login -user ID [-token TOKEN] [options]")
	var userID, token string
	fs.StringVar(&userID, "user", "", "User ID (required)")
	fs.StringVar(&token, "token", "", "Bearer token forwarded to the collection service")
	parse(fs, args)

	header, err := identity.FormatSessionHeader(identity.Identity{UserID: userID, Token: token})
	if err != nil {
		fs.Usage()
		os.Exit(1)
	}

	var resp sessionView
	headers := map[string]string{identity.SessionHeader: header}
	if err := doRequest("PUT", "/session", nil, headers, &resp); err != nil {
		fatal("Failed to log in: %v", err)
	}
	printSuccess("Logged in as %s", resp.UserID)
	if !quiet {
		for _, c := range resp.Collections {
			printCollection(c)
		}
	}
}

func runLogout(args []string) {
	fs := commonFlags("logout", "logout [options]")
	parse(fs, args)

	var resp sessionView
	if err := doRequest("DELETE", "/session", nil, nil, &resp); err != nil {
		fatal("Failed to log out: %v", err)
	}
	printSuccess("Logged out")
}

// =============================================================================
// HTTP + OUTPUT
// =============================================================================

// doRequest sends a JSON request and decodes the response into out.
// Error responses are reported with their kind and message.
func doRequest(method, path string, body interface{}, headers map[string]string, out interface{}) error {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, serverURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if verbose {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if verbose {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Error handler.ErrorView `json:"error"`
		}
		if json.Unmarshal(respBody, &e) == nil && e.Error.Kind != "" {
			return fmt.Errorf("%s: %s", e.Error.Kind, e.Error.Message)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func printCollection(v handler.CollectionView) {
	sync := v.State
	if v.Remote && v.LastSyncedAt != "" {
		sync += ", synced " + v.LastSyncedAt
	} else if !v.Remote {
		sync += ", local only"
	}
	fmt.Printf("\n%s%s%s %s(%s)%s\n", colorBold, v.Kind, colorReset, colorGray, sync, colorReset)

	if len(v.Items) == 0 {
		fmt.Printf("  %s(empty)%s\n", colorGray, colorReset)
	}
	for _, it := range v.Items {
		name := it.Name
		if it.VariantKey != "" {
			name += " [" + it.VariantKey + "]"
		}
		marker := ""
		if it.Pending {
			marker = colorYellow + " *" + colorReset
		}
		fmt.Printf("  %s%-14s%s %3d x %-40s %10s%s\n",
			colorCyan, it.EntryID, colorReset, it.Quantity, name, it.LineTotal, marker)
	}

	t := v.Totals
	fmt.Printf("  %-60s %10s\n", "Subtotal", t.Subtotal)
	fmt.Printf("  %-60s %10s\n", "Shipping", t.Shipping)
	fmt.Printf("  %-60s %10s\n", "Tax", t.Tax)
	fmt.Printf("  %s%-60s %10s%s\n", colorGreen, "Total", t.Total, colorReset)

	if v.LastError != nil {
		printWarning("last error (%s): %s", v.LastError.Kind, v.LastError.Message)
	}
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}
	fmt.Println(pretty.String())
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
