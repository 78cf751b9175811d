package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"vidaa-home/internal/vidaa"
	"vidaa-home/internal/wol"
)

// keyRepeatDelay spaces repeated key presses so the firmware registers
// each one.
const keyRepeatDelay = 100 * time.Millisecond

func runKey(args []string) int {
	fs := flag.NewFlagSet("key", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vidaa-ctl key [options] <name>")
		return exitCommandError
	}
	name := fs.Arg(0)
	code := vidaa.KeyFromName(name)
	if !slices.Contains(vidaa.AllKeys, code) {
		fmt.Fprintf(os.Stderr, "Unknown key %q.", name)
		if matches := keySuggestions(name); len(matches) > 0 {
			fmt.Fprintf(os.Stderr, " Did you mean: %s", strings.Join(matches, ", "))
		} else {
			fmt.Fprint(os.Stderr, " Use 'vidaa-ctl keys' to list key names.")
		}
		fmt.Fprintln(os.Stderr)
		return exitCommandError
	}

	s, done, err := dial(c, true)
	if err != nil {
		return fail(err)
	}
	defer done()

	if !s.SendKey(code) {
		return fail(fmt.Errorf("send %s failed", code))
	}
	fmt.Println("Sent:", code)
	return exitSuccess
}

func keySuggestions(name string) []string {
	needle := strings.ToUpper(name)
	var matches []string
	for _, k := range vidaa.AllKeys {
		if strings.Contains(k, needle) {
			matches = append(matches, k)
		}
	}
	return matches
}

func runKeys(_ []string) int {
	categories := []struct {
		name string
		keys []string
	}{
		{"Power", []string{vidaa.KeyPower}},
		{"Navigation", []string{vidaa.KeyUp, vidaa.KeyDown, vidaa.KeyLeft, vidaa.KeyRight, vidaa.KeyOK}},
		{"Menu", []string{vidaa.KeyMenu, vidaa.KeyHome, vidaa.KeyReturns, vidaa.KeyExit}},
		{"Volume", []string{vidaa.KeyVolumeUp, vidaa.KeyVolumeDown, vidaa.KeyMute}},
		{"Playback", []string{vidaa.KeyPlay, vidaa.KeyPause, vidaa.KeyStop, vidaa.KeyFastForward, vidaa.KeyRewind}},
		{"Numbers", []string{vidaa.Key0, vidaa.Key1, vidaa.Key2, vidaa.Key3, vidaa.Key4, vidaa.Key5, vidaa.Key6, vidaa.Key7, vidaa.Key8, vidaa.Key9}},
		{"Channels", []string{vidaa.KeyChannelUp, vidaa.KeyChannelDown}},
		{"Colors", []string{vidaa.KeyRed, vidaa.KeyGreen, vidaa.KeyYellow, vidaa.KeyBlue}},
	}

	fmt.Println("Available keys:")
	fmt.Println()
	shown := make(map[string]bool)
	for _, cat := range categories {
		fmt.Printf("  %s:\n", cat.name)
		for _, k := range cat.keys {
			shown[k] = true
			short := strings.ToLower(strings.TrimPrefix(k, "KEY_"))
			fmt.Printf("    %-20s (%s)\n", short, k)
		}
	}

	var others []string
	for _, k := range vidaa.AllKeys {
		if !shown[k] {
			others = append(others, k)
		}
	}
	slices.Sort(others)
	if len(others) > 0 {
		fmt.Println("  Other:")
		for _, k := range others {
			short := strings.ToLower(strings.TrimPrefix(k, "KEY_"))
			fmt.Printf("    %-20s (%s)\n", short, k)
		}
	}
	return exitSuccess
}

var navKeys = map[string]string{
	"up":    vidaa.KeyUp,
	"down":  vidaa.KeyDown,
	"left":  vidaa.KeyLeft,
	"right": vidaa.KeyRight,
	"ok":    vidaa.KeyOK,
	"back":  vidaa.KeyReturns,
	"home":  vidaa.KeyHome,
	"menu":  vidaa.KeyMenu,
}

func runNav(action string, args []string) int {
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	code, ok := navKeys[action]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown direction %q\n", action)
		return exitCommandError
	}

	s, done, err := dial(c, true)
	if err != nil {
		return fail(err)
	}
	defer done()

	if !s.SendKey(code) {
		return fail(fmt.Errorf("send %s failed", code))
	}
	fmt.Println("Navigation:", action)
	return exitSuccess
}

func runVolume(args []string) int {
	fs := flag.NewFlagSet("volume", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vidaa-ctl volume [options] up [n] | down [n] | mute | set <0-100> | get")
		return exitCommandError
	}
	action := fs.Arg(0)

	amount := 1
	if fs.NArg() > 1 {
		n, err := strconv.Atoi(fs.Arg(1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Bad amount %q\n", fs.Arg(1))
			return exitCommandError
		}
		amount = n
	}

	s, done, err := dial(c, true)
	if err != nil {
		return fail(err)
	}
	defer done()

	switch action {
	case "up", "down":
		key := vidaa.KeyVolumeUp
		if action == "down" {
			key = vidaa.KeyVolumeDown
		}
		for i := 0; i < amount; i++ {
			if i > 0 {
				time.Sleep(keyRepeatDelay)
			}
			s.SendKey(key)
		}
		fmt.Printf("Volume %s x%d\n", action, amount)
	case "mute":
		s.Mute()
		fmt.Println("Mute toggled")
	case "set":
		if fs.NArg() < 2 || amount < 0 || amount > 100 {
			fmt.Fprintln(os.Stderr, "Usage: vidaa-ctl volume set <0-100>")
			return exitCommandError
		}
		s.SetVolume(amount)
		fmt.Println("Volume set to", amount)
	case "get":
		level, ok := s.GetVolume(3 * time.Second)
		if !ok {
			fmt.Println("Could not get volume")
			return exitConnectError
		}
		fmt.Println("Volume:", level)
	default:
		fmt.Fprintf(os.Stderr, "Unknown volume action %q\n", action)
		return exitCommandError
	}
	return exitSuccess
}

func runSource(args []string) int {
	fs := flag.NewFlagSet("source", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vidaa-ctl source [options] <name> | list")
		return exitCommandError
	}
	name := fs.Arg(0)

	s, done, err := dial(c, true)
	if err != nil {
		return fail(err)
	}
	defer done()

	if name == "list" {
		sources, ok := s.GetSources(5 * time.Second)
		if !ok {
			fmt.Println("Could not get source list")
			return exitConnectError
		}
		fmt.Println("Available sources:")
		for _, src := range sources {
			label := src.DisplayName
			if label == "" {
				label = src.Name
			}
			fmt.Printf("  %s (id: %s)\n", label, src.ID)
		}
		return exitSuccess
	}

	s.SetSource(name)
	fmt.Println("Switching to:", name)
	return exitSuccess
}

func runApp(args []string) int {
	fs := flag.NewFlagSet("app", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vidaa-ctl app [options] <name> | list")
		return exitCommandError
	}
	name := fs.Arg(0)

	s, done, err := dial(c, true)
	if err != nil {
		return fail(err)
	}
	defer done()

	if name == "list" {
		apps, ok := s.GetApps(5 * time.Second)
		if !ok {
			// The device list needs an authenticated session; the
			// built-in catalog at least names what launchapp accepts.
			builtin := vidaa.BuiltinAppNames()
			slices.Sort(builtin)
			fmt.Println("Could not get the app list from the TV. Built-in names:")
			for _, n := range builtin {
				fmt.Println(" ", n)
			}
			return exitConnectError
		}
		fmt.Println("Installed apps:")
		for _, app := range apps {
			fmt.Println(" ", app.Name)
		}
		return exitSuccess
	}

	if !s.LaunchApp(name) {
		return fail(fmt.Errorf("could not launch %q", name))
	}
	fmt.Println("Launching:", name)
	return exitSuccess
}

func runPower(args []string) int {
	fs := flag.NewFlagSet("power", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	s, done, err := dial(c, true)
	if err != nil {
		return fail(err)
	}
	defer done()

	if !s.PowerToggle() {
		return fail(fmt.Errorf("power command failed"))
	}
	fmt.Println("Power command sent")
	return exitSuccess
}

// runOn wakes the panel over the network first: a TV that is fully off
// has no broker to connect to.
func runOn(args []string) int {
	fs := flag.NewFlagSet("on", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	t, err := resolveTarget(c)
	if err != nil {
		return fail(err)
	}

	if t.mac != "" {
		fmt.Printf("Sending Wake-on-LAN to %s...\n", t.mac)
		if err := wol.Wake(t.mac, subnetOf(t.host)); err != nil {
			fmt.Fprintln(os.Stderr, "wake failed:", err)
		} else {
			fmt.Println("Waiting for the TV to boot...")
			time.Sleep(5 * time.Second)
		}
	}

	s, err := newSession(c, t)
	if err != nil {
		return fail(err)
	}
	for attempt := 1; attempt <= 6; attempt++ {
		if s.Connect(3*time.Second, true, true) {
			if s.PowerOn() {
				fmt.Println("TV is on")
			}
			s.Disconnect()
			return exitSuccess
		}
		if attempt < 6 {
			fmt.Printf("Waiting... (%d/6)\n", attempt)
			time.Sleep(2 * time.Second)
		}
	}

	fmt.Fprintln(os.Stderr, "TV did not respond. It may need Wake-on-LAN enabled in its settings.")
	return exitConnectError
}

func runOff(args []string) int {
	fs := flag.NewFlagSet("off", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	s, done, err := dial(c, true)
	if err != nil {
		return fail(err)
	}
	defer done()

	if !s.PowerOff() {
		return fail(fmt.Errorf("power off failed"))
	}
	fmt.Println("Power off command sent")
	return exitSuccess
}

func runState(args []string) int {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	s, done, err := dial(c, true)
	if err != nil {
		return fail(err)
	}
	defer done()

	state := s.GetState(3 * time.Second)
	if state == nil {
		fmt.Println("Could not get state (the TV may be in standby)")
		return exitConnectError
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	fmt.Println("TV state:")
	for _, k := range keys {
		fmt.Printf("  %s: %v\n", k, state[k])
	}
	return exitSuccess
}

// subnetOf turns a dotted IPv4 address into its first three octets for
// the subnet-directed wake broadcast.
func subnetOf(host string) string {
	if i := strings.LastIndex(host, "."); i > 0 && strings.Count(host, ".") == 3 {
		return host[:i]
	}
	return ""
}
