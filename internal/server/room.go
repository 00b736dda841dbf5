package server

import (
	"slices"
)

// Room is the live subscriber set of one room.
type Room struct {
	id      string
	clients map[*Client]struct{}
}

func newRoom(id string) *Room {
	return &Room{
		id:      id,
		clients: make(map[*Client]struct{}),
	}
}

func (r *Room) addClient(c *Client) {
	r.clients[c] = struct{}{}
}

func (r *Room) removeClient(c *Client) {
	delete(r.clients, c)
}

func (r *Room) empty() bool {
	return len(r.clients) == 0
}

// usernames returns the sorted distinct users with a session in the room.
func (r *Room) usernames() []string {
	names := make([]string, 0, len(r.clients))
	for c := range r.clients {
		if name := c.Username(); name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
