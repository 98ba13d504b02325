package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"rmeyers/peerster/pkg/config"
	"rmeyers/peerster/pkg/discovery"
	"rmeyers/peerster/pkg/gossip"
	"rmeyers/peerster/pkg/logger"
	"rmeyers/peerster/pkg/monitor"
	"rmeyers/peerster/pkg/peers"
	"rmeyers/peerster/pkg/transport/udp"
)

var (
	nodeName    string
	noForward   bool
	interactive bool
	useMDNS     bool
)

var nodeCmd = &cobra.Command{
	Use:   "node [host:port ...]",
	Short: "Start a gossip node",
	Run: func(cmd *cobra.Command, args []string) {
		config.Init()

		portMin, portMax := udp.PortRange()
		trans, err := udp.NewUDPTransport(portMin, portMax)
		if err != nil {
			logger.Sugar.Fatalf("Failed to bind: %v", err)
		}
		if err := trans.Listen(); err != nil {
			logger.Sugar.Fatalf("Failed to listen: %v", err)
		}

		node := gossip.NewNode(nodeName, trans, noForward)

		// Up to four local instances share the port range; the siblings
		// are peers from the start.
		self := trans.Self()
		for port := portMin; port <= portMax; port++ {
			if port != self.Port {
				node.LearnPeer(peers.New(netip.MustParseAddr("127.0.0.1"), port))
			}
		}

		// Positional host:port arguments become peers; hostnames resolve
		// in the background.
		for _, arg := range args {
			if err := node.AddPeer(arg); err != nil {
				logger.Sugar.Warnf("Ignoring peer argument %q: %v", arg, err)
			}
		}

		go node.Run()
		go monitor.LogPeriodic(60 * time.Second)
		go printEvents(node)

		if useMDNS {
			adv := discovery.NewAdvertiser()
			if err := adv.Start(node.Origin(), int(self.Port)); err != nil {
				logger.Sugar.Warnf("mDNS advertise failed: %v", err)
			} else {
				defer adv.Stop()
			}
			if err := discovery.LearnLoop(context.Background(), node.LearnPeer); err != nil {
				logger.Sugar.Warnf("mDNS browse failed: %v", err)
			}
		}

		fmt.Printf("Peerster node %s on %s\n", node.Origin(), self)

		if interactive {
			fmt.Println("Type 'help' for commands.")
			prompt.New(
				func(in string) { nodeExecutor(in, node) },
				nodeCompleter,
				prompt.OptionPrefix("peerster> "),
				prompt.OptionTitle("Peerster Node"),
			).Run()
		} else {
			select {}
		}
	},
}

func printEvents(node *gossip.Node) {
	for ev := range node.Events() {
		switch ev.Kind {
		case gossip.EventChat:
			fmt.Printf("%s:\n > %s\n", ev.Origin, ev.Text)
		case gossip.EventPrivate:
			fmt.Printf("%s (PM):\n > %s\n", ev.Origin, ev.Text)
		case gossip.EventNewOrigin:
			fmt.Printf(" * new origin %s\n", ev.Origin)
		case gossip.EventSearchResults:
			for _, name := range ev.Names {
				fmt.Printf(" * search hit: %s (at %s)\n", name, ev.Origin)
			}
		case gossip.EventSearchDone:
			fmt.Printf(" * search %q finished\n", ev.Text)
		case gossip.EventDownloadComplete:
			fmt.Printf(" * download complete: %s\n", ev.Text)
		case gossip.EventJoinedDHT:
			fmt.Println(" * joined the DHT")
		case gossip.EventLeftDHT:
			fmt.Println(" * left the DHT")
		case gossip.EventNotice:
			fmt.Printf(" * %s\n", ev.Text)
		}
	}
}

func nodeExecutor(in string, node *gossip.Node) {
	in = strings.TrimSpace(in)
	blocks := strings.Fields(in)
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping node...")
		node.Stop()
		os.Exit(0)
	case "status":
		fmt.Println(node.Status())
	case "say":
		if len(blocks) < 2 {
			fmt.Println("Usage: say <text>")
			return
		}
		node.Say(strings.Join(blocks[1:], " "))
	case "pm":
		if len(blocks) < 3 {
			fmt.Println("Usage: pm <origin> <text>")
			return
		}
		if err := node.SendPrivate(blocks[1], strings.Join(blocks[2:], " ")); err != nil {
			fmt.Printf("Error sending private message: %v\n", err)
		}
	case "peers":
		for _, p := range node.PeerList() {
			fmt.Println(" ", p)
		}
	case "origins":
		for _, origin := range node.KnownOrigins() {
			fmt.Println(" ", origin)
		}
	case "addpeer":
		if len(blocks) < 2 {
			fmt.Println("Usage: addpeer <host:port>")
			return
		}
		if err := node.AddPeer(blocks[1]); err != nil {
			fmt.Printf("Error adding peer: %v\n", err)
		}
	case "share":
		if len(blocks) < 2 {
			fmt.Println("Usage: share <path>")
			return
		}
		if err := node.Share(blocks[1]); err != nil {
			fmt.Printf("Error sharing file: %v\n", err)
		} else {
			fmt.Println("File shared.")
		}
	case "download":
		if len(blocks) < 4 {
			fmt.Println("Usage: download <origin> <hex metafile hash> <name>")
			return
		}
		hash, err := hex.DecodeString(blocks[2])
		if err != nil {
			fmt.Printf("Invalid hash: %v\n", err)
			return
		}
		if err := node.Download(blocks[1], hash, blocks[3]); err != nil {
			fmt.Printf("Error starting download: %v\n", err)
		} else {
			fmt.Println("Download started.")
		}
	case "get":
		if len(blocks) < 2 {
			fmt.Println("Usage: get <filename from search results>")
			return
		}
		if err := node.DownloadFromResults(blocks[1]); err != nil {
			fmt.Printf("Error starting download: %v\n", err)
		} else {
			fmt.Println("Download started.")
		}
	case "search":
		if len(blocks) < 2 {
			fmt.Println("Usage: search <keywords>")
			return
		}
		node.StartSearch(strings.Join(blocks[1:], " "))
	case "results":
		for _, name := range node.SearchNames() {
			fmt.Println(" ", name)
		}
	case "dht":
		if len(blocks) < 2 || (blocks[1] != "join" && blocks[1] != "leave") {
			fmt.Println("Usage: dht join|leave")
			return
		}
		if err := node.SetDHT(blocks[1] == "join"); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  say <text>                       - Gossip a chat message")
		fmt.Println("  pm <origin> <text>               - Send a private message")
		fmt.Println("  peers / origins                  - List peers / known origins")
		fmt.Println("  addpeer <host:port>              - Add a peer")
		fmt.Println("  share <path>                     - Share a file")
		fmt.Println("  search <keywords>                - Search for files")
		fmt.Println("  results                          - List search results")
		fmt.Println("  get <name>                       - Download a search result")
		fmt.Println("  download <origin> <hash> <name>  - Download by metafile hash")
		fmt.Println("  dht join|leave                   - Toggle DHT participation")
		fmt.Println("  status                           - Show node status")
		fmt.Println("  exit                             - Stop the node and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func nodeCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "say", Description: "Gossip a chat message"},
		{Text: "pm", Description: "Send a private message"},
		{Text: "peers", Description: "List known peers"},
		{Text: "origins", Description: "List known origins"},
		{Text: "addpeer", Description: "Add a peer"},
		{Text: "share", Description: "Share a file"},
		{Text: "search", Description: "Search for files"},
		{Text: "results", Description: "List search results"},
		{Text: "get", Description: "Download a search result"},
		{Text: "download", Description: "Download by metafile hash"},
		{Text: "dht", Description: "Join or leave the DHT"},
		{Text: "status", Description: "Show node status"},
		{Text: "exit", Description: "Stop the node"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.Flags().StringVarP(&nodeName, "name", "n", "Node", "Base name for the origin ID")
	nodeCmd.Flags().BoolVar(&noForward, "noforward", false, "Do not forward other nodes' chat messages")
	nodeCmd.Flags().BoolVarP(&interactive, "interactive", "i", true, "Start the interactive shell")
	nodeCmd.Flags().BoolVar(&useMDNS, "mdns", false, "Advertise and discover peers over mDNS")
}
