package logjournal

import (
	"io"

	"github.com/rs/zerolog"

	"nuha.dev/trackee/internal/journal"
)

type LogJournal struct {
	logger zerolog.Logger
}

func New(w io.Writer) *LogJournal {
	return &LogJournal{logger: zerolog.New(w).With().Timestamp().Str("module", "journal").Logger()}
}

func (l *LogJournal) Put(e journal.Entry) {
	l.logger.Info().
		Str("cycle_id", e.CycleID).
		Float64("lat", e.Latitude).
		Float64("lon", e.Longitude).
		Str("city", e.City).
		Str("outcome", e.Outcome).
		Int("status", e.Status).
		Int("sends", e.Sends).
		Time("cycle_time", e.CycleTime).
		Msg("cycle")
}
