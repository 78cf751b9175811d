// vidaa-ctl is a command-line remote for Hisense/VIDAA televisions.
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const (
	exitSuccess      = 0
	exitCommandError = 1
	exitConnectError = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitCommandError)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var exitCode int
	switch cmd {
	case "discover", "scan":
		exitCode = runDiscover(args)
	case "pair":
		exitCode = runPair(args)
	case "pin":
		exitCode = runPin(args)
	case "auth":
		exitCode = runAuth(args)
	case "key":
		exitCode = runKey(args)
	case "keys":
		exitCode = runKeys(args)
	case "up", "down", "left", "right", "ok", "back", "home", "menu":
		exitCode = runNav(cmd, args)
	case "nav":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "nav needs a direction: up, down, left, right, ok, back, home, menu")
			exitCode = exitCommandError
			break
		}
		exitCode = runNav(args[0], args[1:])
	case "volume", "vol":
		exitCode = runVolume(args)
	case "source", "input":
		exitCode = runSource(args)
	case "app":
		exitCode = runApp(args)
	case "power":
		exitCode = runPower(args)
	case "on":
		exitCode = runOn(args)
	case "off":
		exitCode = runOff(args)
	case "state", "status":
		exitCode = runState(args)
	case "monitor":
		exitCode = runMonitor(args)
	case "wake":
		exitCode = runWake(args)
	case "creds":
		exitCode = runCreds(args)
	case "version", "-v", "--version":
		fmt.Println("vidaa-ctl " + version)
		exitCode = exitSuccess
	case "help", "-h", "--help":
		printUsage()
		exitCode = exitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		exitCode = exitCommandError
	}

	os.Exit(exitCode)
}

func printUsage() {
	fmt.Println(`vidaa-ctl - control Hisense/VIDAA TVs over the network

Usage:
  vidaa-ctl <command> [options] [args]

TV selection (accepted by every command that talks to a TV):
  -tv <name>      named entry from the config file's tvs: map
  -ip <address>   connect directly, bypassing the config file
  -config <path>  config file (default: config.yaml)
  -tokens <path>  token file (default: tokens.json)

Commands:
  discover   Scan the network for TVs (SSDP + UDP broadcast)
  pair       Show a PIN on the TV and pair interactively
  pin        Submit a PIN the TV is already showing
  auth       Token management: status (default), refresh, clear
  key        Send a remote key press (vidaa-ctl key ok)
  keys       List the known key names
  up, down, left, right, ok, back, home, menu
             Navigation shortcuts
  volume     up [n] | down [n] | mute | set <0-100> | get
  source     Switch input (hdmi1, tv, av, ...) or 'list'
  app        Launch an app (netflix, youtube, ...) or 'list'
  power      Toggle power
  on         Turn the TV on (Wake-on-LAN, then connect and verify)
  off        Turn the TV off (checks the current state first)
  state      Print the TV state
  monitor    Print broadcast state changes until interrupted
  wake       Send a Wake-on-LAN packet only
  creds      Print the derived MQTT credentials for a device

Examples:
  vidaa-ctl discover
  vidaa-ctl pair -ip 192.168.1.50
  vidaa-ctl volume set 25
  vidaa-ctl key -tv bedroom mute

Run 'vidaa-ctl <command> -h' for command options.`)
}
