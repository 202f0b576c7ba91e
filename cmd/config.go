package main

import "time"

type Config struct {
	BufferSize           int           `env:"BUFFER_SIZE,required=true"`
	MaxContentLength     int           `env:"MAX_CONTENT_LENGTH,required=true"`
	SearchLimit          int           `env:"SEARCH_LIMIT,default=50"`
	CharacterReplacement rune          `env:"CHARACTER_REPLACEMENT,required=true"`
	LimitMessages        *int          `env:"LIMIT_MESSAGES"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,required=true"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,required=true"`
	PongTimeout          time.Duration `env:"PONG_TIMEOUT,required=true"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,required=true"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,required=true"`
	SendRate             float64       `env:"SEND_RATE,required=true"`
	SendBurst            int           `env:"SEND_BURST,required=true"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath        string        `env:"BLUGE_FILEPATH,required=true"`
	NatsURL              string        `env:"NATS_URL"`
	LogLevel             string        `env:"LOG_LEVEL,required=true"`
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080"`
}
