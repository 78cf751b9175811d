package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"vidaa-home/internal/discovery"
	"vidaa-home/internal/vidaa"
	"vidaa-home/internal/wol"
)

func runDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	timeout := fs.Duration("timeout", 5*time.Second, "how long to wait for replies")
	method := fs.String("method", "all", "all, ssdp, ssdp_listen, udp or probe")
	addr := fs.String("ip", "", "address to probe directly (method probe)")
	iface := fs.String("iface", "", "local interface IP to scan from")
	verbose := fs.Bool("verbose", false, "log protocol details to stderr")
	fs.Parse(args)

	scanner := discovery.NewScanner(*iface, cliLogger(*verbose))
	ctx := context.Background()

	var found map[string]discovery.Device
	switch *method {
	case "probe":
		if *addr == "" {
			fmt.Fprintln(os.Stderr, "Method probe needs -ip.")
			return exitCommandError
		}
		dev, ok := scanner.Probe(ctx, *addr, 0, *timeout)
		if !ok {
			fmt.Printf("%s did not answer the descriptor probe.\n", *addr)
			return exitConnectError
		}
		found = map[string]discovery.Device{dev.IP: dev}
	case "all":
		found = scanner.Scan(ctx, nil, *timeout)
	case discovery.MethodSSDP, discovery.MethodSSDPListen, discovery.MethodUDP:
		found = scanner.Scan(ctx, []string{*method}, *timeout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown method %q (want all, ssdp, ssdp_listen, udp or probe)\n", *method)
		return exitCommandError
	}

	if len(found) == 0 {
		fmt.Println("No TVs found. Make sure the TV is on and on the same network.")
		fmt.Println("Some networks block SSDP multicast; try -method udp, or probe a")
		fmt.Println("known address with -method probe -ip <addr>.")
		return exitCommandError
	}

	ips := make([]string, 0, len(found))
	for ip := range found {
		ips = append(ips, ip)
	}
	slices.Sort(ips)

	fmt.Printf("Found %d TV(s):\n", len(found))
	for _, ip := range ips {
		d := found[ip]
		fmt.Printf("\n  %s:%d\n", ip, d.Port)
		if d.Name != "" {
			fmt.Printf("    name:   %s\n", d.Name)
		}
		if d.Model != "" {
			fmt.Printf("    model:  %s\n", d.Model)
		}
		if d.MAC != "" {
			fmt.Printf("    mac:    %s\n", d.MAC)
		}
		if *verbose {
			if d.ProtocolVersion != "" {
				fmt.Printf("    proto:  %s\n", d.ProtocolVersion)
			}
			fmt.Printf("    source: %s\n", d.Source)
		}
	}
	return exitSuccess
}

func runWake(args []string) int {
	fs := flag.NewFlagSet("wake", flag.ExitOnError)
	c := addConnFlags(fs)
	mac := fs.String("mac", "", "MAC to wake (default: config entry, then ARP lookup)")
	fs.Parse(args)

	t, err := resolveTarget(c)
	if err != nil {
		return fail(err)
	}

	hw := *mac
	if hw == "" {
		hw = t.mac
	}
	if hw == "" {
		if found, ok := wol.MACFromIP(t.host); ok {
			hw = found
		}
	}
	if hw == "" {
		fmt.Fprintf(os.Stderr, "No MAC known for %s: pass -mac or add one to the config.\n", t.host)
		return exitCommandError
	}

	if err := wol.Wake(hw, subnetOf(t.host)); err != nil {
		return fail(err)
	}
	fmt.Printf("Wake-on-LAN packets sent to %s.\n", hw)
	return exitSuccess
}

// runMonitor prints the TV's broadcast pushes until interrupted.
func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	c := addConnFlags(fs)
	fs.Parse(args)

	t, err := resolveTarget(c)
	if err != nil {
		return fail(err)
	}
	opts, err := sessionOptions(c, t)
	if err != nil {
		return fail(err)
	}
	opts.OnState = func(state map[string]any) {
		printEvent("state", state)
	}
	opts.OnVolume = func(level int) {
		fmt.Printf("%s [volume] %d\n", time.Now().Format("15:04:05"), level)
	}
	opts.OnConnectionLost = func(err error) {
		fmt.Printf("%s [lost]   %v\n", time.Now().Format("15:04:05"), err)
	}

	s := vidaa.NewSession(opts)
	if !s.Connect(c.timeout, true, true) {
		return fail(fmt.Errorf("could not connect to %s", t.host))
	}
	defer s.Disconnect()

	fmt.Printf("Monitoring %s. Press Ctrl+C to stop.\n", t.name)
	if state := s.GetState(3 * time.Second); state != nil {
		printEvent("state", state)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nStopped.")
	return exitSuccess
}

func printEvent(kind string, payload map[string]any) {
	line, err := json.Marshal(payload)
	if err != nil {
		line = []byte(fmt.Sprint(payload))
	}
	fmt.Printf("%s [%s]  %s\n", time.Now().Format("15:04:05"), kind, line)
}
