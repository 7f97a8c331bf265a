// citta-client is a bare terminal client for manual play and debugging:
// stdin lines become chat, /vote and /submit map to their envelopes, and
// every inbound event is printed.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/DilaverShtini/nomi-cose-citta/pkg/client"
	"github.com/DilaverShtini/nomi-cose-citta/pkg/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "server address")
	username := flag.String("username", "", "display name to join with")
	peerAddr := flag.String("peer-addr", "", "optional host:port other clients can reach you at")
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "usage: citta-client -username NAME [-addr HOST:PORT]")
		os.Exit(2)
	}

	c, err := client.Dial(context.Background(), *addr, client.Options{
		Username: *username,
		PeerAddr: *peerAddr,
	})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if err := c.Join(); err != nil {
		log.Fatalf("join: %v", err)
	}

	go func() {
		for env := range c.Events() {
			printEvent(env)
		}
		if err := c.Err(); err != nil {
			log.Fatalf("connection lost: %v", err)
		}
		fmt.Println("-- disconnected --")
		os.Exit(0)
	}()

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		line := strings.TrimSpace(stdin.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "/vote "):
			err = c.Vote(strings.TrimSpace(strings.TrimPrefix(line, "/vote ")))
		case strings.HasPrefix(line, "/submit "):
			// /submit nomi=Anna,cose=Anello,città=Ancona
			answers := map[string]string{}
			for _, pair := range strings.Split(strings.TrimPrefix(line, "/submit "), ",") {
				if k, v, ok := strings.Cut(pair, "="); ok {
					answers[strings.TrimSpace(k)] = strings.TrimSpace(v)
				}
			}
			err = c.Submit(answers)
		case line == "/quit":
			return
		default:
			err = c.Chat(line)
		}
		if err != nil {
			log.Fatalf("send: %v", err)
		}
	}
}

func printEvent(env *protocol.Envelope) {
	switch env.Kind {
	case protocol.KindChat:
		fmt.Printf("<%s> %s\n", env.Sender, env.PayloadString(protocol.KeyText))
	case protocol.KindLobbyUpdate:
		fmt.Printf("-- players: %v\n", env.Payload[protocol.KeyPlayers])
	case protocol.KindError:
		fmt.Printf("!! %s\n", env.PayloadString(protocol.KeyError))
	default:
		fmt.Printf("** %s %v\n", env.Kind, env.Payload)
	}
}
