package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"watchroom/internal/api/http/converter"
	"watchroom/internal/service"
)

// RoomController serves the read-only REST views of the registry. Rooms are
// created and joined over the websocket, not here.
type RoomController struct {
	rooms *service.RoomService
}

func NewRoomController(rooms *service.RoomService) *RoomController {
	return &RoomController{rooms: rooms}
}

// ListRooms returns the public room summaries, same data as the list-rooms
// event.
func (c *RoomController) ListRooms(ctx *gin.Context) {
	rooms := c.rooms.ListRooms()
	ctx.JSON(http.StatusOK, gin.H{"rooms": converter.RoomsToAPI(rooms)})
}

// GetRoom returns a snapshot of one room.
func (c *RoomController) GetRoom(ctx *gin.Context) {
	room := c.rooms.RoomSnapshot(ctx.Param("roomID"))
	if room == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToAPI(room)})
}
