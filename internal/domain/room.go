package domain

import (
	"strconv"
)

// RoomID identifies a chat room with a voice call. Chat ids are signed
// integers; they travel as strings on every wire we speak.
type RoomID string

func RoomIDFromInt(id int64) RoomID {
	return RoomID(strconv.FormatInt(id, 10))
}

type RoomStatus string

const (
	RoomKicked     RoomStatus = "kicked"
	RoomLeft       RoomStatus = "left"
	RoomCallClosed RoomStatus = "closed"
	RoomOther      RoomStatus = "other"
)

// Terminal reports whether the status means the bot can no longer play here.
func (s RoomStatus) Terminal() bool {
	switch s {
	case RoomKicked, RoomLeft, RoomCallClosed:
		return true
	}
	return false
}

type Room struct {
	ID     RoomID `json:"id"`
	Status string `json:"status"`
	Queued int    `json:"queued"`
}
