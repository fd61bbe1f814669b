package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/wedding-chat/pkg/model"
)

type LoginResponse struct {
	Token string `json:"token"`
}

type historyPage struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

type wireEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func login(apiAddr, userID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}

	return loginResp.Token, nil
}

func call(method, endpoint, token string, body interface{}, out interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, endpoint, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %d %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printEvent(raw []byte) {
	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Printf("Received raw: %s", raw)
		return
	}

	switch ev.Event {
	case model.EventReceiveMessage, model.EventMessageSentAck:
		var msg model.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			log.Printf("Bad %s payload: %s", ev.Event, ev.Payload)
			return
		}
		if ev.Event == model.EventMessageSentAck {
			fmt.Printf("\r(sent to %s) %s\n> ", msg.ToUserID, msg.Content)
			return
		}
		fmt.Printf("\r%s: %s\n> ", msg.FromUserID, msg.Content)
	case model.EventTyping:
		var n model.TypingNotice
		json.Unmarshal(ev.Payload, &n)
		fmt.Printf("\rUser %s is typing...      \n> ", n.From)
	case model.EventMessagesRead:
		var rr model.ReadReceipt
		json.Unmarshal(ev.Payload, &rr)
		fmt.Printf("\r%s read %d message(s)\n> ", rr.By, rr.Count)
	default:
		fmt.Printf("\r[%s] %s\n> ", ev.Event, ev.Payload)
	}
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "chat server address")
	userID := flag.String("user", "user1", "user id")
	peer := flag.String("to", "", "user id to chat with")
	flag.Parse()

	if *peer == "" {
		log.Fatal("-to is required")
	}
	apiAddr := "http://" + *serverAddr

	// 1. Login to get token
	log.Printf("Logging in as %s...", *userID)
	token, err := login(apiAddr, *userID)
	if err != nil {
		log.Fatal("Login failed:", err)
	}

	// 2. Show recent history and mark it read
	var page historyPage
	if err := call(http.MethodGet, apiAddr+"/messages/"+url.PathEscape(*peer)+"?limit=20", token, nil, &page); err != nil {
		log.Printf("History unavailable: %v", err)
	}
	for _, m := range page.Messages {
		fmt.Printf("%s %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.FromUserID, m.Content)
	}
	if err := call(http.MethodPost, apiAddr+"/messages/"+url.PathEscape(*peer)+"/read", token, nil, nil); err != nil {
		log.Printf("Mark read failed: %v", err)
	}

	// 3. Connect to WebSocket with token
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}
			printEvent(message)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// 4. Read from stdin. Messages go over REST; typing and read receipts
	// use the socket.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				fmt.Print("> ")
				continue
			}

			var err error
			switch text {
			case "/quit":
				interrupt <- os.Interrupt
				return
			case "/typing":
				err = c.WriteJSON(model.Frame{Type: model.FrameTyping, ToUserID: *peer})
			case "/read":
				err = c.WriteJSON(model.Frame{Type: model.FrameMarkRead, OtherPartyID: *peer})
			default:
				body := map[string]string{"to_user_id": *peer, "content": text}
				err = call(http.MethodPost, apiAddr+"/messages", token, body, nil)
			}
			if err != nil {
				log.Println("write:", err)
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")

			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
