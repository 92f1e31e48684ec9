// Command client is a minimal terminal client for a QuickMessenger hub:
// discover or dial a hub, register a username, then chat line by line.
//
// Commands:
//
//	/msg <userId> <text>   direct message
//	/file <userId> <path>  send a file ("all" broadcasts)
//	/name <newName>        change username
//	/ping                  liveness check
//	/quit                  exit
//
// Any other line is broadcast to everyone.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/seitanmen/QuickMessenger/internal/client"
	"github.com/seitanmen/QuickMessenger/internal/common"
)

func main() {
	var (
		hubURL        = flag.String("s", "", "hub URL (ws://host:8080); empty triggers LAN discovery")
		username      = flag.String("n", "", "username to register")
		password      = flag.String("p", "", "password sealing the reconnect token")
		token         = flag.String("t", "", "reconnect token from a previous session")
		totpCode      = flag.String("c", "", "second-factor code, if enrolled")
		discoveryPort = flag.Int("u", 8081, "UDP discovery port")
	)
	flag.Parse()

	ctx := context.Background()

	addr := *hubURL
	if addr == "" {
		hubs, err := client.Discover(ctx, *discoveryPort)
		if err != nil {
			log.Fatalf("discovery failed: %v", err)
		}
		if len(hubs) == 0 {
			log.Fatal("no hub found on the LAN; pass -s ws://host:8080")
		}
		addr = fmt.Sprintf("ws://%s:8080", hubs[0].IP)
		fmt.Printf("discovered hub %s (%s)\n", hubs[0].Hostname, hubs[0].IP)
	}

	c, err := client.Connect(ctx, addr)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	if err := c.Register(*username, client.RegisterOptions{
		Token:    *token,
		Password: *password,
		TOTPCode: *totpCode,
	}); err != nil {
		log.Fatalf("register failed: %v", err)
	}

	var userID string
	done := make(chan struct{})
	ready := make(chan struct{})

	go func() {
		defer close(done)
		for f := range c.Frames() {
			switch string(f.Kind) {
			case "registration_success":
				var s struct {
					UserID     string `json:"userId"`
					Username   string `json:"username"`
					Token      string `json:"token"`
					TOTPSecret string `json:"totpSecret"`
				}
				if err := json.Unmarshal(f.Raw, &s); err != nil {
					continue
				}
				userID = s.UserID
				fmt.Printf("registered as %s (%s)\nreconnect token: %s\n", s.Username, s.UserID, s.Token)
				if s.TOTPSecret != "" {
					fmt.Printf("second-factor secret (store it now): %s\n", s.TOTPSecret)
				}
				close(ready)
			case "registration_error":
				var e struct {
					Error string `json:"error"`
				}
				json.Unmarshal(f.Raw, &e)
				log.Fatalf("registration rejected: %s", e.Error)
			case "message":
				var m struct {
					From    string `json:"from"`
					Content string `json:"content"`
				}
				if err := json.Unmarshal(f.Raw, &m); err == nil {
					fmt.Printf("[%s] %s\n", m.From, m.Content)
				}
			case "file":
				var fl struct {
					From     string `json:"from"`
					Filename string `json:"filename"`
					FileSize int64  `json:"fileSize"`
				}
				if err := json.Unmarshal(f.Raw, &fl); err == nil {
					fmt.Printf("[%s] sent file %s (%d bytes)\n", fl.From, fl.Filename, fl.FileSize)
				}
			case "user_list":
				var l struct {
					Users []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"users"`
				}
				if err := json.Unmarshal(f.Raw, &l); err == nil {
					names := make([]string, 0, len(l.Users))
					for _, u := range l.Users {
						names = append(names, fmt.Sprintf("%s (%s)", u.Name, u.ID))
					}
					fmt.Printf("online: %s\n", strings.Join(names, ", "))
				}
			case "username_changed":
				var u struct {
					OldUsername string `json:"oldUsername"`
					NewUsername string `json:"newUsername"`
				}
				if err := json.Unmarshal(f.Raw, &u); err == nil {
					fmt.Printf("%s is now %s\n", u.OldUsername, u.NewUsername)
				}
			case "username_change_error":
				var e struct {
					Error string `json:"error"`
				}
				if err := json.Unmarshal(f.Raw, &e); err == nil {
					fmt.Printf("username change rejected: %s\n", e.Error)
				}
			case "pong":
				fmt.Println("pong")
			}
		}
	}()

	<-ready

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		switch {
		case line == "/quit":
			c.Close()
			<-done
			return
		case line == "/ping":
			err = c.Ping()
		case strings.HasPrefix(line, "/msg "):
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 3 {
				fmt.Println("usage: /msg <userId> <text>")
				continue
			}
			err = c.Send(userID, parts[1], parts[2])
		case strings.HasPrefix(line, "/file "):
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 3 {
				fmt.Println("usage: /file <userId> <path>")
				continue
			}
			err = c.SendFile(userID, parts[1], parts[2])
		case strings.HasPrefix(line, "/name "):
			err = c.ChangeUsername(strings.TrimSpace(strings.TrimPrefix(line, "/name ")))
		default:
			err = c.Send(userID, common.BroadcastRecipient, line)
		}
		if err != nil {
			fmt.Printf("send failed: %v\n", err)
		}
	}

	c.Close()
	<-done
}
