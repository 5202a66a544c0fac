// Command tun2http-demo drives an Engine against a loopback stand-in for a
// TUN device, in the flag-driven CLI style of the split-tunnel daemon this
// module descends from. It exists to exercise init/start/stop and the
// observation hook without requiring a real TUN device or platform
// privileges — provisioning an actual TUN interface and the JNI bridge a
// mobile host would use are out of scope for this engine.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"tun2http/internal/core"
	"tun2http/internal/engine"
)

func main() {
	var (
		proxy       = flag.String("proxy", "", "upstream HTTP CONNECT proxy host:port, empty for direct")
		dns         = flag.String("dns", "", "reserved DNS hint")
		mtu         = flag.Int("mtu", 1500, "TUN MTU")
		logLevel    = flag.String("log-level", "info", "debug|info|warn")
		configPath  = flag.String("config", "", "optional YAML config path; overrides the flags above when set")
		observeFlag = flag.Bool("observe", false, "log every observed packet to stdout")
	)
	flag.Parse()

	cfg := core.EngineConfig{Proxy: *proxy, DNS: *dns, MTU: *mtu, LogLevel: *logLevel}
	if *configPath != "" {
		loaded, err := core.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	core.Log.SetLevel(core.ParseLevel(cfg.LogLevel))

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "socketpair: %v\n", err)
		os.Exit(1)
	}
	tunFD, peerFD := fds[0], fds[1]
	defer unix.Close(peerFD)

	e := engine.New()
	if err := e.Init(tunFD, cfg.Proxy, cfg.DNS, cfg.MTU); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	e.SetIdleTimeouts(cfg.TCPIdleTimeoutSeconds, cfg.UDPIdleTimeoutSeconds)

	if *observeFlag {
		e.RegisterCallback(func(dir engine.Direction, protocol uint8, srcIP string, srcPort uint16, dstIP string, dstPort uint16, payload []byte) {
			core.Log.Infof("Observer", "dir=%d proto=%d %s:%d -> %s:%d (%d bytes)", dir, protocol, srcIP, srcPort, dstIP, dstPort, len(payload))
		})
	}

	if err := e.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}
	core.Log.Infof("Demo", "engine %s running; peer fd %d stands in for the TUN device's other end", e.Version(), peerFD)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := e.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "stop: %v\n", err)
		os.Exit(1)
	}
}
