package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sakshamg567/tiltmarble/pkg/utils"
)

// resolveRoom picks the room the bots join. An empty link creates one: the relay is asked over
// HTTP, while the redis backend needs no server and names the room locally.
func resolveRoom(link, backend, server string) (id string, created bool, err error) {
	if link != "" {
		if id = extractRoomID(link); id == "" {
			return "", false, fmt.Errorf("could not extract room id from %q", link)
		}
		return id, false, nil
	}
	if backend == "redis" {
		if id = utils.GenShortID(); id == "" {
			return "", false, errors.New("generate room id")
		}
		return id, true, nil
	}
	if id, err = createRoom(server); err != nil {
		return "", false, fmt.Errorf("create room: %w", err)
	}
	return id, true, nil
}

// extractRoomID accepts a bare room id or a game link in one of the shapes the web client shares.
func extractRoomID(link string) string {
	if !strings.Contains(link, "/") && !strings.Contains(link, "?") {
		return link
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}

	if id := u.Query().Get("roomId"); id != "" {
		return id
	}

	// localhost:5173/?9a0edb5c
	if u.RawQuery != "" && !strings.Contains(u.RawQuery, "=") {
		return u.RawQuery
	}

	if u.Fragment != "" {
		// localhost:5173/#/?roomId=xyz
		if _, after, ok := strings.Cut(u.Fragment, "roomId="); ok {
			id, _, _ := strings.Cut(after, "&")
			return id
		}
		// localhost:5173/#/9a0edb5c
		if !strings.Contains(u.Fragment, "=") {
			return strings.TrimPrefix(u.Fragment, "/")
		}
	}

	// localhost:3000/room/9a0edb5c
	if i := strings.LastIndex(u.Path, "/room/"); i >= 0 {
		return strings.Trim(u.Path[i+len("/room/"):], "/")
	}
	return ""
}

func createRoom(server string) (string, error) {
	resp, err := http.Post(strings.TrimRight(server, "/")+"/room/create", "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create room: %s", resp.Status)
	}

	var res struct {
		RoomID string `json:"roomId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("invalid JSON from room creation: %w", err)
	}
	return res.RoomID, nil
}

// wsBase turns http(s)://host into ws(s)://host.
func wsBase(server string) string {
	server = strings.TrimRight(server, "/")
	switch {
	case strings.HasPrefix(server, "https://"):
		return "wss://" + strings.TrimPrefix(server, "https://")
	case strings.HasPrefix(server, "http://"):
		return "ws://" + strings.TrimPrefix(server, "http://")
	}
	return server
}
