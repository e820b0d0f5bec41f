package fanout

import (
	"time"

	"github.com/jpalmerr/fanout/engine"
)

// Stats are the timings and byte counts of one transfer, taken when it
// finished. Durations are measured from the start of the transfer.
//
// For failed transfers only Total is reliable; phases that were never
// reached are zero.
type Stats struct {
	Total      time.Duration
	NameLookup time.Duration
	Connect    time.Duration
	FirstByte  time.Duration
	Downloaded int64
	Uploaded   int64
}

func statsFromInfo(info engine.Info) Stats {
	return Stats{
		Total:      info.Total,
		NameLookup: info.NameLookup,
		Connect:    info.Connect,
		FirstByte:  info.StartTransfer,
		Downloaded: info.Downloaded,
		Uploaded:   info.Uploaded,
	}
}
