package feed

import (
	"time"
)

type FrameMessage struct {
	Length   int
	Protocol byte
	Payload  []byte
	Buffer   []byte
}

const (
	START_BYTE byte = 0x99
)

const (
	LOGIN           byte = 0x01
	LOCATION_UPDATE byte = 0x02
	GPS_ERROR       byte = 0x04
	STATUS          byte = 0x06
)

type LoginMessage struct {
	SnType     string `json:"sn_type"`
	Serial     string `json:"serial"`
	DeviceType string `json:"device_type"`
}

type LocationMessage struct {
	GpsTime   time.Time `json:"gps_time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float32   `json:"altitude"`
	Speed     float32   `json:"speed"`
	SatUsed   int       `json:"sat_used"`
	Fix       bool      `json:"fix"`
}

type StatusMessage struct {
	GpsStatus bool `json:"gps_status"`
}
