package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, userID string) string {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Login as %s failed: %s", userID, resp.Status)
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		log.Fatal(err)
	}
	return loginResp.Token
}

func do(method, url, token string, body interface{}, want int) []byte {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, url, r)
	req.Header.Add("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: expected %d, got %d: %s", method, url, want, resp.StatusCode, out)
	}
	return out
}

// Runs the send, history, read and conversation flow against a server
// started with DEV_LOGIN=true.
func main() {
	apiAddr := flag.String("api", "http://localhost:8080", "chat server address")
	flag.Parse()

	userA, userB := "userA", "userB"
	tokenA, tokenB := login(*apiAddr, userA), login(*apiAddr, userB)
	fmt.Printf("Token: %s...\n", tokenA[:10])

	log.Printf("Sending %s -> %s...", userA, userB)
	sent := do(http.MethodPost, *apiAddr+"/messages", tokenA,
		map[string]string{"to_user_id": userB, "content": "hello from verify_api"}, http.StatusCreated)
	log.Printf("Sent: %s", sent)

	log.Println("Rejecting an empty message...")
	do(http.MethodPost, *apiAddr+"/messages", tokenA,
		map[string]string{"to_user_id": userB, "content": " "}, http.StatusBadRequest)

	log.Printf("Unread for %s: %s", userB, do(http.MethodGet, *apiAddr+"/messages/unread/count", tokenB, nil, http.StatusOK))
	log.Printf("History: %s", do(http.MethodGet, *apiAddr+"/messages/"+userA+"?limit=5", tokenB, nil, http.StatusOK))
	log.Printf("Mark read: %s", do(http.MethodPost, *apiAddr+"/messages/"+userA+"/read", tokenB, nil, http.StatusOK))
	log.Printf("Conversations: %s", do(http.MethodGet, *apiAddr+"/conversations", tokenB, nil, http.StatusOK))
	log.Printf("Presence: %s", do(http.MethodGet, *apiAddr+"/presence/"+userA, tokenB, nil, http.StatusOK))
	log.Println("API verified")
}
