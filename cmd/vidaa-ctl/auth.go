package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"vidaa-home/internal/credentials"
	"vidaa-home/internal/token"
	"vidaa-home/internal/vidaa"
)

func runPair(args []string) int {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	s, done, err := dial(c, true)
	if err != nil {
		return fail(err)
	}
	defer done()

	fmt.Println("Starting pairing...")
	if !s.StartPairing() {
		return fail(fmt.Errorf("the TV did not acknowledge the pairing request"))
	}

	fmt.Println("A PIN should appear on the TV screen.")
	fmt.Print("Enter the PIN (or 'q' to cancel): ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fail(fmt.Errorf("read pin: %w", err))
	}
	pin := strings.TrimSpace(line)
	if strings.EqualFold(pin, "q") || pin == "" {
		fmt.Println("Pairing cancelled.")
		return exitCommandError
	}

	if !s.Authenticate(pin, 30*time.Second) {
		fmt.Fprintln(os.Stderr, "Pairing failed. Check the PIN and try again.")
		return exitConnectError
	}
	fmt.Println("Pairing successful. Credentials saved.")
	return exitSuccess
}

// runPin submits a PIN the TV is already showing, for scripted pairing
// where the dialog was triggered elsewhere (the bridge, or a previous
// pair attempt).
func runPin(args []string) int {
	fs := flag.NewFlagSet("pin", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vidaa-ctl pin [options] <code>")
		return exitCommandError
	}
	pin := fs.Arg(0)

	s, done, err := dial(c, true)
	if err != nil {
		return fail(err)
	}
	defer done()

	if !s.Authenticate(pin, 30*time.Second) {
		fmt.Fprintln(os.Stderr, "PIN rejected.")
		return exitConnectError
	}
	fmt.Println("Paired. Credentials saved.")
	return exitSuccess
}

func runAuth(args []string) int {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	action := "status"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	switch action {
	case "status":
		return authStatus(c)
	case "refresh":
		return authRefresh(c)
	case "clear":
		return authClear(c)
	default:
		fmt.Fprintf(os.Stderr, "Unknown auth action %q (want status, refresh or clear)\n", action)
		return exitCommandError
	}
}

// storeLookup resolves the target and the keys its token is filed
// under, without touching the network.
func storeLookup(c *connFlags) (token.Store, string, string, int, error) {
	t, err := resolveTarget(c)
	if err != nil {
		return nil, "", "", 0, err
	}
	store, err := token.NewFileStore(c.tokens)
	if err != nil {
		return nil, "", "", 0, err
	}
	deviceID := ""
	if t.mac != "" {
		deviceID = credentials.NormalizeMAC(t.mac)
	}
	port := t.port
	if port == 0 {
		port = vidaa.DefaultPort
	}
	return store, deviceID, t.host, port, nil
}

func authStatus(c *connFlags) int {
	store, deviceID, host, port, err := storeLookup(c)
	if err != nil {
		return fail(err)
	}

	status := store.Status(deviceID, host, port)
	if !status.HasToken {
		fmt.Println("No stored credentials. Run 'vidaa-ctl pair' to authenticate.")
		return exitSuccess
	}

	fmt.Println("Authentication status:")
	if status.AccessValid {
		hours := status.AccessExpiresIn / 3600
		mins := status.AccessExpiresIn % 3600 / 60
		fmt.Printf("  Access token:  valid (expires in %dh %dm)\n", hours, mins)
	} else {
		fmt.Println("  Access token:  EXPIRED")
	}
	if status.RefreshValid {
		days := status.RefreshExpiresIn / 86400
		hours := status.RefreshExpiresIn % 86400 / 3600
		fmt.Printf("  Refresh token: valid (expires in %dd %dh)\n", days, hours)
	} else {
		fmt.Println("  Refresh token: EXPIRED")
	}

	switch {
	case status.NeedsRefresh:
		fmt.Println("\n  The token will refresh automatically on the next connection.")
	case status.NeedsReauth:
		fmt.Println("\n  Both tokens expired. Run 'vidaa-ctl pair' to re-authenticate.")
	}
	return exitSuccess
}

func authRefresh(c *connFlags) int {
	// Connect without the automatic refresh so the explicit one below
	// is the only writer.
	s, done, err := dial(c, false)
	if err != nil {
		return fail(err)
	}
	defer done()

	if !s.RefreshToken(10 * time.Second) {
		fmt.Fprintln(os.Stderr, "Token refresh failed.")
		return exitConnectError
	}
	fmt.Println("Token refreshed.")
	return exitSuccess
}

func authClear(c *connFlags) int {
	store, deviceID, host, port, err := storeLookup(c)
	if err != nil {
		return fail(err)
	}
	if err := store.Delete(deviceID, host, port); err != nil {
		return fail(err)
	}
	fmt.Println("Stored credentials cleared.")
	return exitSuccess
}

// runCreds prints the MQTT identities the derivation produces for a
// device, one per generation plus the static fallback. Useful with
// external MQTT tooling.
func runCreds(args []string) int {
	fs := flag.NewFlagSet("creds", flag.ExitOnError)
	c := addConnFlags(fs)
	mac := fs.String("mac", "", "device MAC (default: the selected tv's config entry)")
	brand := fs.String("brand", credentials.DefaultBrand, "brand seed")
	at := fs.Int64("at", 0, "unix timestamp for the derivation (default: now)")
	fs.Parse(args)

	id := *mac
	if id == "" {
		t, err := resolveTarget(c)
		if err != nil {
			return fail(err)
		}
		if t.mac == "" {
			fmt.Fprintln(os.Stderr, "No MAC available: pass -mac or configure one for the tv.")
			return exitCommandError
		}
		id = t.mac
	}

	ts := *at
	if ts == 0 {
		ts = time.Now().Unix()
	}

	fmt.Printf("Credentials for %s (brand %s, at %d):\n", credentials.NormalizeMAC(id), *brand, ts)
	for _, gen := range []credentials.Generation{credentials.Legacy, credentials.Middle, credentials.Modern} {
		cr := credentials.Generate(id, *brand, gen, ts)
		fmt.Printf("\n  %s:\n", gen)
		fmt.Printf("    client_id: %s\n", cr.ClientID)
		fmt.Printf("    username:  %s\n", cr.Username)
		fmt.Printf("    password:  %s\n", cr.Password)
	}
	st := credentials.GenerateStatic(id)
	fmt.Printf("\n  static:\n")
	fmt.Printf("    client_id: %s\n", st.ClientID)
	fmt.Printf("    username:  %s\n", st.Username)
	fmt.Printf("    password:  %s\n", st.Password)
	return exitSuccess
}
