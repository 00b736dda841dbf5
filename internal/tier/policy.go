// Package tier decides which subscription level may enter which public room
// and which privileged actions each level unlocks.
package tier

import (
	"fmt"
	"slices"
	"strings"
)

type Tier string

const (
	Free    Tier = "free"
	Pro     Tier = "pro"
	Premium Tier = "premium"
)

const (
	RoomGeneral = "general"
	RoomForex   = "forex"
	RoomCrypto  = "crypto"
	RoomStocks  = "stocks"
)

var rank = map[Tier]int{
	Free:    0,
	Pro:     1,
	Premium: 2,
}

var roomAccess = map[Tier][]string{
	Free:    {RoomGeneral},
	Pro:     {RoomGeneral, RoomForex, RoomCrypto},
	Premium: {RoomGeneral, RoomForex, RoomCrypto, RoomStocks},
}

type PublicRoom struct {
	Id           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	RequiredTier Tier   `json:"requiredTier"`
}

var publicRooms = []PublicRoom{
	{Id: RoomGeneral, Name: "General", Description: "Open discussion for every trader", RequiredTier: Free},
	{Id: RoomForex, Name: "Forex", Description: "Currency pairs and metals", RequiredTier: Pro},
	{Id: RoomCrypto, Name: "Crypto", Description: "Digital assets", RequiredTier: Pro},
	{Id: RoomStocks, Name: "Stocks", Description: "Equities and indices", RequiredTier: Premium},
}

// Parse returns the tier named by s. Matching is case-insensitive.
func Parse(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := rank[t]; !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

func (t Tier) Valid() bool {
	_, ok := rank[t]
	return ok
}

// AtLeast reports whether t is the same as or above other in the order
// free < pro < premium. Unknown tiers rank below free.
func (t Tier) AtLeast(other Tier) bool {
	tr, ok := rank[t]
	if !ok {
		return false
	}
	return tr >= rank[other]
}

func (t Tier) String() string {
	return string(t)
}

// Title is the display form used in upgrade prompts.
func (t Tier) Title() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// PublicRooms returns a copy of the static public room table.
func PublicRooms() []PublicRoom {
	return slices.Clone(publicRooms)
}

func IsPublicRoom(roomId string) bool {
	return slices.ContainsFunc(publicRooms, func(r PublicRoom) bool { return r.Id == roomId })
}

// CanAccessRoom reports whether a member of tier t may join or post in the
// public room roomId. Private rooms are not in the table and always return
// false here; they are gated by membership instead.
func CanAccessRoom(t Tier, roomId string) bool {
	return slices.Contains(roomAccess[t], roomId)
}

func CanPostOfficial(t Tier) bool {
	return t == Pro || t == Premium
}

func CanCreatePrivateRoom(t Tier) bool {
	return t == Premium
}

// RequiredTier is the minimum tier named in a "room locked" prompt.
func RequiredTier(roomId string) Tier {
	switch roomId {
	case RoomGeneral:
		return Free
	case RoomStocks:
		return Premium
	default:
		return Pro
	}
}

// LockedMessage is the upgrade prompt shown when a public room is denied.
func LockedMessage(roomId string) string {
	return fmt.Sprintf("Upgrade to %s to access %s room", RequiredTier(roomId).Title(), roomId)
}
