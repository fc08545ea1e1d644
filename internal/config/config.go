// Package config reads server settings from the environment, loading a .env file first when one exists.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakshamg567/tiltmarble/logger"
)

type Config struct {
	Port           string
	SocketIOPort   string
	RedisURL       string
	IdleTimeout    time.Duration
	PurgeAfter     time.Duration
	ReapInterval   time.Duration
	ResyncInterval time.Duration
	RoomWidth      float64
	RoomHeight     float64
	MarbleRadius   float64
	LogLevel       string
	AccessLog      bool
}

func Defaults() Config {
	return Config{
		Port:           "3000",
		SocketIOPort:   "3001",
		IdleTimeout:    45 * time.Second,
		PurgeAfter:     2 * time.Minute,
		ReapInterval:   5 * time.Second,
		ResyncInterval: 5 * time.Second,
		RoomWidth:      800,
		RoomHeight:     500,
		MarbleRadius:   15,
		LogLevel:       "info",
	}
}

// InitConfig loads files (or .env when none are given). A missing file is not an error.
func InitConfig(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load env: %w", err)
	}
	return nil
}

// GetEnvVariable returns the value of v or an error when it is unset or empty.
func GetEnvVariable(v string) (string, error) {
	if v == "" {
		return "", fmt.Errorf("input param empty")
	}
	b := os.Getenv(v)
	if b == "" {
		return "", fmt.Errorf("failed to get variable for %s", v)
	}
	return b, nil
}

// Load builds a Config from the environment. Unparseable values keep their default and are logged.
func Load(l logger.Logger) Config {
	if l == nil {
		l = logger.Default()
	}
	c := Defaults()
	str(&c.Port, "PORT")
	str(&c.SocketIOPort, "SOCKETIO_PORT")
	str(&c.RedisURL, "REDIS_URL")
	str(&c.LogLevel, "LOG_LEVEL")
	duration(l, &c.IdleTimeout, "IDLE_TIMEOUT")
	duration(l, &c.PurgeAfter, "PURGE_AFTER")
	duration(l, &c.ReapInterval, "REAP_INTERVAL")
	duration(l, &c.ResyncInterval, "RESYNC_INTERVAL")
	float(l, &c.RoomWidth, "ROOM_WIDTH")
	float(l, &c.RoomHeight, "ROOM_HEIGHT")
	float(l, &c.MarbleRadius, "MARBLE_RADIUS")
	if v, err := GetEnvVariable("ACCESS_LOG"); err == nil {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			l.Errorf("config: ACCESS_LOG=%q: %v", v, perr)
		} else {
			c.AccessLog = b
		}
	}
	return c
}

func str(dst *string, key string) {
	if v, err := GetEnvVariable(key); err == nil {
		*dst = v
	}
}

func duration(l logger.Logger, dst *time.Duration, key string) {
	v, err := GetEnvVariable(key)
	if err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		l.Errorf("config: %s=%q is not a positive duration, using %s", key, v, *dst)
		return
	}
	*dst = d
}

func float(l logger.Logger, dst *float64, key string) {
	v, err := GetEnvVariable(key)
	if err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		l.Errorf("config: %s=%q is not a positive number, using %v", key, v, *dst)
		return
	}
	*dst = f
}
