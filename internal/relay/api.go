package relay

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/sakshamg567/tiltmarble/internal/protocol"
	"github.com/sakshamg567/tiltmarble/internal/roster"
)

// NewApp wires the REST API and the websocket endpoint onto a fiber app.
func NewApp(s *Server, accessLog bool) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(cors.New())
	if accessLog {
		app.Use(fiberlog.New())
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/:roomId/:playerId", websocket.New(func(c *websocket.Conn) {
		roomID := c.Params("roomId")
		playerID := c.Params("playerId")
		codec, err := protocol.CodecByName(c.Query("codec"))
		if err != nil {
			s.log.Errorf("ws %s/%s: %v", roomID, playerID, err)
			c.Close()
			return
		}
		sess := NewSession(roomID, playerID, c.Query("name"), c, codec, s.cfg.SendBuffer, s.log)
		s.Serve(sess)
	}))

	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "hubs": s.Hubs()})
	})

	app.Get("/api/rooms", func(c *fiber.Ctx) error {
		return c.JSON(s.mgr.Rooms())
	})

	app.Post("/api/rooms", s.createRoom)
	app.Post("/room/create", func(c *fiber.Ctx) error {
		room := s.mgr.CreateRoom("")
		return c.JSON(fiber.Map{"roomId": room.ID})
	})

	app.Get("/api/rooms/:roomId", func(c *fiber.Ctx) error {
		snap, err := s.mgr.Snapshot(c.Params("roomId"))
		if err != nil {
			return roomError(c, err)
		}
		return c.JSON(snap.Room)
	})

	app.Get("/api/rooms/:roomId/players", func(c *fiber.Ctx) error {
		snap, err := s.mgr.Snapshot(c.Params("roomId"))
		if err != nil {
			return roomError(c, err)
		}
		return c.JSON(snap.Players)
	})

	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func (s *Server) createRoom(c *fiber.Ctx) error {
	var body struct {
		Name string `json:"name"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
	}
	room := s.mgr.CreateRoom(body.Name)
	s.log.Infof("room %s created (%s)", room.ID, room.Name)
	return c.Status(fiber.StatusCreated).JSON(room)
}

func roomError(c *fiber.Ctx, err error) error {
	if errors.Is(err, roster.ErrRoomNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "room not found"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
